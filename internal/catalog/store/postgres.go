package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"consular/internal/catalog/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const serviceColumns = `id, organization_id, name, description, category, steps, required_documents, active, created_at, updated_at`

type PostgresStore struct {
	db     *sql.DB
	runner *tx.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewSQLRunner(db)}
}

func (s *PostgresStore) Create(ctx context.Context, svc *models.Service) error {
	steps, err := json.Marshal(svc.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO consular_services (`+serviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(svc.ID), uuid.UUID(svc.OrganizationID), svc.Name, svc.Description, string(svc.Category),
		steps, pq.Array(docStrings(svc.RequiredDocuments)), svc.Active, svc.CreatedAt, svc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consular service: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	return scanService(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM consular_services WHERE id = $1`, uuid.UUID(serviceID)))
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*models.Service, error) {
	var (
		where []string
		args  []any
	)
	if !f.OrganizationID.IsNil() {
		args = append(args, uuid.UUID(f.OrganizationID))
		where = append(where, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	query := `SELECT ` + serviceColumns + ` FROM consular_services`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY name`

	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consular services: %w", err)
	}
	defer rows.Close()

	var out []*models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Execute(ctx context.Context, serviceID id.ServiceID, validate func(*models.Service) error, mutate func(*models.Service)) (*models.Service, error) {
	var result *models.Service
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		svc, err := scanService(ex.QueryRowContext(txCtx,
			`SELECT `+serviceColumns+` FROM consular_services WHERE id = $1 FOR UPDATE`, uuid.UUID(serviceID)))
		if err != nil {
			return err
		}
		if err := validate(svc); err != nil {
			return err
		}
		mutate(svc)
		steps, err := json.Marshal(svc.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		if _, err := ex.ExecContext(txCtx, `
			UPDATE consular_services
			SET name = $2, description = $3, steps = $4, required_documents = $5, active = $6, updated_at = $7
			WHERE id = $1`,
			uuid.UUID(svc.ID), svc.Name, svc.Description, steps,
			pq.Array(docStrings(svc.RequiredDocuments)), svc.Active, svc.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update consular service: %w", err)
		}
		result = svc
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

func scanService(row rowScanner) (*models.Service, error) {
	var (
		svc       models.Service
		serviceID uuid.UUID
		orgID     uuid.UUID
		category  string
		steps     []byte
		docs      []string
	)
	if err := row.Scan(&serviceID, &orgID, &svc.Name, &svc.Description, &category, &steps,
		pq.Array(&docs), &svc.Active, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan consular service: %w", err)
	}
	if err := json.Unmarshal(steps, &svc.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	svc.ID = id.ServiceID(serviceID)
	svc.OrganizationID = id.OrganizationID(orgID)
	svc.Category = models.Category(category)
	svc.RequiredDocuments = make([]id.DocumentType, len(docs))
	for i, d := range docs {
		svc.RequiredDocuments[i] = id.DocumentType(d)
	}
	return &svc, nil
}

func docStrings(types []id.DocumentType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
