package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"consular/internal/appointment/models"
	"consular/internal/platform/postgres"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const appointmentColumns = `id, user_id, organization_id, request_id, starts_at, duration_minutes,
	status, reason, cancelled_at, created_at, updated_at`

const defaultListLimit = 50

type PostgresStore struct {
	db     *sql.DB
	runner *tx.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewSQLRunner(db)}
}

// Create maps a hit on appointments_slot_idx to sentinel.ErrAlreadyUsed.
func (s *PostgresStore) Create(ctx context.Context, a *models.Appointment) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(a.ID), uuid.UUID(a.UserID), uuid.UUID(a.OrganizationID), postgres.NullUUID(uuid.UUID(a.RequestID)),
		a.StartsAt, a.DurationMinutes(), string(a.Status), a.Reason, postgres.NullTime(a.CancelledAt),
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, uuid.UUID(apptID))
	return scanAppointment(row)
}

func (s *PostgresStore) List(ctx context.Context, f models.ListFilter) ([]*models.Appointment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	conds := []string{"TRUE"}
	var args []any
	if !f.UserID.IsNil() {
		args = append(args, uuid.UUID(f.UserID))
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !f.OrganizationID.IsNil() {
		args = append(args, uuid.UUID(f.OrganizationID))
		conds = append(conds, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("starts_at >= $%d", len(args)))
	}
	args = append(args, limit, max(f.Offset, 0))
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(` ORDER BY starts_at ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var out []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Execute(ctx context.Context, apptID id.AppointmentID, validate func(*models.Appointment) error, mutate func(*models.Appointment)) (*models.Appointment, error) {
	var result *models.Appointment
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		a, err := scanAppointment(ex.QueryRowContext(txCtx,
			`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, uuid.UUID(apptID)))
		if err != nil {
			return err
		}
		if err := validate(a); err != nil {
			return err
		}
		mutate(a)
		_, err = ex.ExecContext(txCtx, `
			UPDATE appointments SET status = $2, reason = $3, cancelled_at = $4, updated_at = $5
			WHERE id = $1`,
			uuid.UUID(a.ID), string(a.Status), a.Reason, postgres.NullTime(a.CancelledAt), a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		result = a
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

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a                   models.Appointment
		apptID, userID, org uuid.UUID
		requestID           uuid.NullUUID
		minutes             int
		status              string
		cancelledAt         sql.NullTime
	)
	err := row.Scan(&apptID, &userID, &org, &requestID, &a.StartsAt, &minutes,
		&status, &a.Reason, &cancelledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	a.ID = id.AppointmentID(apptID)
	a.UserID = id.UserID(userID)
	a.OrganizationID = id.OrganizationID(org)
	a.RequestID = id.RequestID(requestID.UUID)
	a.Duration = time.Duration(minutes) * time.Minute
	a.Status = models.Status(status)
	a.CancelledAt = postgres.TimePtr(cancelledAt)
	return &a, nil
}
