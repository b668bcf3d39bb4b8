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

	catalogmodels "consular/internal/catalog/models"
	"consular/internal/platform/postgres"
	"consular/internal/request/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const requestColumns = `id, reference, user_id, profile_id, service_id, organization_id, category,
	appointment_id, document_ids, form_data, assigned_agent_id, review_note, status,
	submitted_at, reviewed_at, reviewed_by, completed_at, created_at, updated_at`

const defaultListLimit = 50

// PostgresStore persists requests in the service_requests table. The partial
// unique index service_requests_active_registration_idx backs the
// one-active-registration rule.
type PostgresStore struct {
	db     *sql.DB
	runner *tx.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewSQLRunner(db)}
}

func (s *PostgresStore) Create(ctx context.Context, r *models.ServiceRequest) error {
	form, err := json.Marshal(r.FormData)
	if err != nil {
		return fmt.Errorf("marshal form data: %w", err)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO service_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		uuid.UUID(r.ID), r.Reference, uuid.UUID(r.UserID), uuid.UUID(r.ProfileID), uuid.UUID(r.ServiceID),
		uuid.UUID(r.OrganizationID), string(r.Category), postgres.NullUUID(uuid.UUID(r.AppointmentID)),
		pq.Array(docStrings(r.DocumentIDs)), form, postgres.NullUUID(uuid.UUID(r.AssignedAgentID)),
		r.ReviewNote, string(r.Status), postgres.NullTime(r.SubmittedAt), postgres.NullTime(r.ReviewedAt),
		postgres.NullUUID(uuid.UUID(r.ReviewedBy)), postgres.NullTime(r.CompletedAt), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert service request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error) {
	return scanRequest(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, uuid.UUID(requestID)))
}

func (s *PostgresStore) HasActiveRegistration(ctx context.Context, profileID id.ProfileID) (bool, error) {
	var exists bool
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM service_requests
			WHERE profile_id = $1 AND category = $2 AND status NOT IN ($3, $4)
		)`,
		uuid.UUID(profileID), string(catalogmodels.CategoryRegistration),
		string(models.StatusRejected), string(models.StatusCompleted),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active registration: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) List(ctx context.Context, f models.ListFilter) ([]*models.ServiceRequest, error) {
	where, args := filterClause(f, true)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, max(f.Offset, 0))
	query := `SELECT ` + requestColumns + ` FROM service_requests` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list service requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByStatus ignores Status, Limit and Offset in f.
func (s *PostgresStore) CountByStatus(ctx context.Context, f models.ListFilter) (models.StatusCounts, error) {
	where, args := filterClause(f, false)
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM service_requests`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count service requests: %w", err)
	}
	defer rows.Close()

	counts := models.StatusCounts{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan request count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

// Execute locks the row with FOR UPDATE, validates, mutates and writes it back
// in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, requestID id.RequestID, validate func(*models.ServiceRequest) error, mutate func(*models.ServiceRequest)) (*models.ServiceRequest, error) {
	var result *models.ServiceRequest
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		r, err := scanRequest(ex.QueryRowContext(txCtx,
			`SELECT `+requestColumns+` FROM service_requests WHERE id = $1 FOR UPDATE`, uuid.UUID(requestID)))
		if err != nil {
			return err
		}
		if err := validate(r); err != nil {
			return err
		}
		mutate(r)
		form, err := json.Marshal(r.FormData)
		if err != nil {
			return fmt.Errorf("marshal form data: %w", err)
		}
		_, err = ex.ExecContext(txCtx, `
			UPDATE service_requests SET appointment_id = $2, document_ids = $3, form_data = $4,
				assigned_agent_id = $5, review_note = $6, status = $7, submitted_at = $8,
				reviewed_at = $9, reviewed_by = $10, completed_at = $11, updated_at = $12
			WHERE id = $1`,
			uuid.UUID(r.ID), postgres.NullUUID(uuid.UUID(r.AppointmentID)), pq.Array(docStrings(r.DocumentIDs)),
			form, postgres.NullUUID(uuid.UUID(r.AssignedAgentID)), r.ReviewNote, string(r.Status),
			postgres.NullTime(r.SubmittedAt), postgres.NullTime(r.ReviewedAt),
			postgres.NullUUID(uuid.UUID(r.ReviewedBy)), postgres.NullTime(r.CompletedAt), r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update service request: %w", err)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Remove locks the row, runs validate and deletes it.
func (s *PostgresStore) Remove(ctx context.Context, requestID id.RequestID, validate func(*models.ServiceRequest) error) (*models.ServiceRequest, error) {
	var removed *models.ServiceRequest
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		r, err := scanRequest(ex.QueryRowContext(txCtx,
			`SELECT `+requestColumns+` FROM service_requests WHERE id = $1 FOR UPDATE`, uuid.UUID(requestID)))
		if err != nil {
			return err
		}
		if err := validate(r); err != nil {
			return err
		}
		if _, err := ex.ExecContext(txCtx, `DELETE FROM service_requests WHERE id = $1`, uuid.UUID(requestID)); err != nil {
			return fmt.Errorf("delete service request: %w", err)
		}
		removed = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func filterClause(f models.ListFilter, withStatus bool) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(column string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if !f.UserID.IsNil() {
		add("user_id", uuid.UUID(f.UserID))
	}
	if !f.OrganizationID.IsNil() {
		add("organization_id", uuid.UUID(f.OrganizationID))
	}
	if !f.AssignedAgentID.IsNil() {
		add("assigned_agent_id", uuid.UUID(f.AssignedAgentID))
	}
	if !f.ServiceID.IsNil() {
		add("service_id", uuid.UUID(f.ServiceID))
	}
	if !f.DocumentID.IsNil() {
		args = append(args, f.DocumentID.String())
		where = append(where, fmt.Sprintf("$%d = ANY(document_ids)", len(args)))
	}
	if withStatus && f.Status != "" {
		add("status", string(f.Status))
	}
	if len(where) == 0 {
		return "", args
	}
	return ` WHERE ` + strings.Join(where, " AND "), args
}

func docStrings(docs []id.DocumentID) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.String()
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ServiceRequest, error) {
	var (
		r                                            models.ServiceRequest
		requestID, userID, profileID, serviceID, org uuid.UUID
		appointmentID, agentID, reviewedBy           uuid.NullUUID
		category, status                             string
		docIDs                                       []string
		form                                         []byte
		submittedAt, reviewedAt, completedAt         sql.NullTime
	)
	err := row.Scan(&requestID, &r.Reference, &userID, &profileID, &serviceID, &org, &category,
		&appointmentID, pq.Array(&docIDs), &form, &agentID, &r.ReviewNote, &status,
		&submittedAt, &reviewedAt, &reviewedBy, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan service request: %w", err)
	}
	r.ID = id.RequestID(requestID)
	r.UserID = id.UserID(userID)
	r.ProfileID = id.ProfileID(profileID)
	r.ServiceID = id.ServiceID(serviceID)
	r.OrganizationID = id.OrganizationID(org)
	r.Category = catalogmodels.Category(category)
	r.AppointmentID = id.AppointmentID(appointmentID.UUID)
	r.AssignedAgentID = id.UserID(agentID.UUID)
	r.ReviewedBy = id.UserID(reviewedBy.UUID)
	r.Status = models.Status(status)
	r.SubmittedAt = postgres.TimePtr(submittedAt)
	r.ReviewedAt = postgres.TimePtr(reviewedAt)
	r.CompletedAt = postgres.TimePtr(completedAt)
	for _, raw := range docIDs {
		docID, err := id.ParseDocumentID(raw)
		if err != nil {
			return nil, fmt.Errorf("scan service request document id %q: %w", raw, err)
		}
		r.DocumentIDs = append(r.DocumentIDs, docID)
	}
	r.FormData = map[string]any{}
	if len(form) > 0 {
		if err := json.Unmarshal(form, &r.FormData); err != nil {
			return nil, fmt.Errorf("decode form data: %w", err)
		}
	}
	return &r, nil
}
