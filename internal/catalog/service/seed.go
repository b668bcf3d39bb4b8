package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"consular/internal/catalog/models"
	"consular/internal/catalog/store"
	orgmodels "consular/internal/organization/models"
)

// SeedFile is the YAML catalog loaded at startup.
type SeedFile struct {
	Organizations []SeedOrganization `yaml:"organizations"`
}

type SeedOrganization struct {
	Name      string                        `yaml:"name"`
	Countries []string                      `yaml:"countries"`
	Services  []models.CreateServiceRequest `yaml:"services"`
}

// OrganizationEnsurer creates seeded organizations on first start.
type OrganizationEnsurer interface {
	Ensure(ctx context.Context, name string, countries []string) (*orgmodels.Organization, error)
}

func ParseSeed(r io.Reader) (*SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}
	return &f, nil
}

// Seed creates the organizations and services of f that do not exist yet,
// matching services by name within their organization. It returns the
// number of services created.
func (s *Service) Seed(ctx context.Context, f *SeedFile, orgs OrganizationEnsurer) (int, error) {
	created := 0
	for _, so := range f.Organizations {
		org, err := orgs.Ensure(ctx, so.Name, so.Countries)
		if err != nil {
			return created, fmt.Errorf("seed organization %q: %w", so.Name, err)
		}
		existing, err := s.services.List(ctx, store.Filter{OrganizationID: org.ID})
		if err != nil {
			return created, fmt.Errorf("list services of %q: %w", so.Name, err)
		}
		have := make(map[string]struct{}, len(existing))
		for _, e := range existing {
			have[strings.ToLower(e.Name)] = struct{}{}
		}
		for i := range so.Services {
			req := &so.Services[i]
			if err := req.Validate(); err != nil {
				return created, fmt.Errorf("seed service %q of %q: %w", req.Name, so.Name, err)
			}
			if _, ok := have[strings.ToLower(req.Name)]; ok {
				continue
			}
			if _, err := s.create(ctx, org.ID, req); err != nil {
				return created, err
			}
			created++
		}
	}
	s.logger.InfoContext(ctx, "catalog seeded", "services_created", created)
	return created, nil
}
