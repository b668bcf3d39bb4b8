package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"consular/internal/organization/models"
	"consular/internal/platform/postgres"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const orgColumns = `id, name, countries, status, created_at, updated_at`

type PostgresStore struct {
	db     *sql.DB
	runner *tx.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewSQLRunner(db)}
}

// CreateIfNameAvailable relies on the unique LOWER(name) index.
func (s *PostgresStore) CreateIfNameAvailable(ctx context.Context, org *models.Organization) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO organizations (`+orgColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(org.ID), org.Name, pq.Array(countryStrings(org.Countries)),
		string(org.Status), org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error) {
	return scanOrganization(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, uuid.UUID(orgID)))
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Organization, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+orgColumns+` FROM organizations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var out []*models.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count organizations: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Execute(ctx context.Context, orgID id.OrganizationID, validate func(*models.Organization) error, mutate func(*models.Organization)) (*models.Organization, error) {
	var result *models.Organization
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		o, err := scanOrganization(ex.QueryRowContext(txCtx,
			`SELECT `+orgColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, uuid.UUID(orgID)))
		if err != nil {
			return err
		}
		if err := validate(o); err != nil {
			return err
		}
		mutate(o)
		if _, err := ex.ExecContext(txCtx,
			`UPDATE organizations SET name = $2, countries = $3, status = $4, updated_at = $5 WHERE id = $1`,
			uuid.UUID(o.ID), o.Name, pq.Array(countryStrings(o.Countries)), string(o.Status), o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update organization: %w", err)
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (*models.Organization, error) {
	var (
		o         models.Organization
		orgID     uuid.UUID
		countries []string
		status    string
	)
	if err := row.Scan(&orgID, &o.Name, pq.Array(&countries), &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	o.ID = id.OrganizationID(orgID)
	o.Status = models.Status(status)
	o.Countries = make([]id.CountryCode, len(countries))
	for i, c := range countries {
		o.Countries[i] = id.CountryCode(c)
	}
	return &o, nil
}

func countryStrings(codes []id.CountryCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}
