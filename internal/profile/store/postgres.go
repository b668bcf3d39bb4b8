package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"consular/internal/platform/postgres"
	"consular/internal/profile/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const profileColumns = `id, user_id, first_name, last_name, birth_date, birth_place, nationality, gender,
	address, document_number, document_expiry, status, submitted_at, validated_at, validated_by,
	rejection_reason, created_at, updated_at`

const defaultListLimit = 50

// PostgresStore persists profiles in the profiles table.
type PostgresStore struct {
	db     *sql.DB
	runner *tx.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewSQLRunner(db)}
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Profile) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		uuid.UUID(p.ID), uuid.UUID(p.UserID), p.FirstName, p.LastName, postgres.NullTime(p.BirthDate),
		p.BirthPlace, string(p.Nationality), p.Gender, p.Address, p.DocumentNumber,
		postgres.NullTime(p.DocumentExpiry), string(p.Status), postgres.NullTime(p.SubmittedAt),
		postgres.NullTime(p.ValidatedAt), postgres.NullUUID(uuid.UUID(p.ValidatedBy)),
		p.RejectionReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, uuid.UUID(profileID))
	return scanProfile(row)
}

func (s *PostgresStore) FindByUser(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, uuid.UUID(userID))
	return scanProfile(row)
}

func (s *PostgresStore) List(ctx context.Context, f models.ListFilter) ([]*models.Profile, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + profileColumns + ` FROM profiles`
	args := []any{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` WHERE status = $1`
	}
	args = append(args, limit, max(f.Offset, 0))
	query += fmt.Sprintf(` ORDER BY updated_at LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context, statuses ...models.Status) (int, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	var n int
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE status = ANY($1)`, pq.Array(values)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count profiles (%s): %w", strings.Join(values, ","), err)
	}
	return n, nil
}

// Execute locks the row with FOR UPDATE, validates, mutates and writes it back
// in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, profileID id.ProfileID, validate func(*models.Profile) error, mutate func(*models.Profile)) (*models.Profile, error) {
	var result *models.Profile
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		p, err := scanProfile(ex.QueryRowContext(txCtx,
			`SELECT `+profileColumns+` FROM profiles WHERE id = $1 FOR UPDATE`, uuid.UUID(profileID)))
		if err != nil {
			return err
		}
		if err := validate(p); err != nil {
			return err
		}
		mutate(p)
		_, err = ex.ExecContext(txCtx, `
			UPDATE profiles SET first_name = $2, last_name = $3, birth_date = $4, birth_place = $5,
				nationality = $6, gender = $7, address = $8, document_number = $9, document_expiry = $10,
				status = $11, submitted_at = $12, validated_at = $13, validated_by = $14,
				rejection_reason = $15, updated_at = $16
			WHERE id = $1`,
			uuid.UUID(p.ID), p.FirstName, p.LastName, postgres.NullTime(p.BirthDate), p.BirthPlace,
			string(p.Nationality), p.Gender, p.Address, p.DocumentNumber, postgres.NullTime(p.DocumentExpiry),
			string(p.Status), postgres.NullTime(p.SubmittedAt), postgres.NullTime(p.ValidatedAt),
			postgres.NullUUID(uuid.UUID(p.ValidatedBy)), p.RejectionReason, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		result = p
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

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p                                                   models.Profile
		profileID, userID                                   uuid.UUID
		validatedBy                                         uuid.NullUUID
		nationality, status                                 string
		birthDate, documentExpiry, submittedAt, validatedAt sql.NullTime
	)
	err := row.Scan(&profileID, &userID, &p.FirstName, &p.LastName, &birthDate, &p.BirthPlace,
		&nationality, &p.Gender, &p.Address, &p.DocumentNumber, &documentExpiry, &status,
		&submittedAt, &validatedAt, &validatedBy, &p.RejectionReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.ID = id.ProfileID(profileID)
	p.UserID = id.UserID(userID)
	p.Nationality = id.CountryCode(nationality)
	p.Status = models.Status(status)
	p.BirthDate = postgres.TimePtr(birthDate)
	p.DocumentExpiry = postgres.TimePtr(documentExpiry)
	p.SubmittedAt = postgres.TimePtr(submittedAt)
	p.ValidatedAt = postgres.TimePtr(validatedAt)
	p.ValidatedBy = id.UserID(validatedBy.UUID)
	return &p, nil
}
