package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"consular/internal/access"
	"consular/internal/platform/postgres"
	"consular/internal/user/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const userColumns = `id, email, first_name, last_name, phone, password_hash, roles,
	organization_id, profile_id, status, deleted_at, created_at, updated_at`

// PostgresStore persists users in the users table.
type PostgresStore struct {
	db     *sql.DB
	runner *tx.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewSQLRunner(db)}
}

func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(user.ID), user.Email, user.FirstName, user.LastName, user.Phone, user.PasswordHash,
		pq.Array(access.Strings(user.Roles)),
		postgres.NullUUID(uuid.UUID(user.OrganizationID)), postgres.NullUUID(uuid.UUID(user.ProfileID)),
		string(user.Status), postgres.NullTime(user.DeletedAt), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, uuid.UUID(userID))
	return scanUser(row)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = $1`, models.NormalizeEmail(email))
	return scanUser(row)
}

func (s *PostgresStore) ListByOrganization(ctx context.Context, orgID id.OrganizationID, limit, offset int) ([]*models.User, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY email
		LIMIT $2 OFFSET $3`, uuid.UUID(orgID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExistsWithRole(ctx context.Context, role access.Role) (bool, error) {
	var exists bool
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE $1 = ANY(roles) AND deleted_at IS NULL)`,
		string(role)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role: %w", err)
	}
	return exists, nil
}

// Execute locks the row with FOR UPDATE, validates, mutates and writes it back
// in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	var result *models.User
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		u, err := scanUser(ex.QueryRowContext(txCtx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, uuid.UUID(userID)))
		if err != nil {
			return err
		}
		if err := validate(u); err != nil {
			return err
		}
		mutate(u)
		_, err = ex.ExecContext(txCtx, `
			UPDATE users SET first_name = $2, last_name = $3, phone = $4, roles = $5,
				organization_id = $6, profile_id = $7, status = $8, deleted_at = $9, updated_at = $10
			WHERE id = $1`,
			uuid.UUID(u.ID), u.FirstName, u.LastName, u.Phone, pq.Array(access.Strings(u.Roles)),
			postgres.NullUUID(uuid.UUID(u.OrganizationID)), postgres.NullUUID(uuid.UUID(u.ProfileID)),
			string(u.Status), postgres.NullTime(u.DeletedAt), u.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		result = u
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

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		userID    uuid.UUID
		roles     []string
		orgID     uuid.NullUUID
		profileID uuid.NullUUID
		status    string
		deletedAt sql.NullTime
	)
	err := row.Scan(&userID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.PasswordHash,
		pq.Array(&roles), &orgID, &profileID, &status, &deletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ID = id.UserID(userID)
	u.Roles = access.RolesFromStrings(roles)
	u.OrganizationID = id.OrganizationID(orgID.UUID)
	u.ProfileID = id.ProfileID(profileID.UUID)
	u.Status = models.Status(status)
	u.DeletedAt = postgres.TimePtr(deletedAt)
	return &u, nil
}
