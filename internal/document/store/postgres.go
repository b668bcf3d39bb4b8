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

	"consular/internal/document/models"
	"consular/internal/platform/postgres"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const documentColumns = `id, user_id, request_id, type, file_name, content_type, size_bytes, checksum,
	storage_key, status, metadata, deleted_at, created_at, updated_at`

const defaultListLimit = 50

// PostgresStore persists documents in the user_documents table.
type PostgresStore struct {
	db     *sql.DB
	runner *tx.SQLRunner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewSQLRunner(db)}
}

func (s *PostgresStore) Create(ctx context.Context, d *models.Document) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("encode document metadata: %w", err)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO user_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.UUID(d.ID), uuid.UUID(d.UserID), postgres.NullUUID(uuid.UUID(d.RequestID)), string(d.Type),
		d.FileName, d.ContentType, d.SizeBytes, d.Checksum, d.StorageKey, string(d.Status), meta,
		postgres.NullTime(d.DeletedAt), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, docID id.DocumentID) (*models.Document, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM user_documents WHERE id = $1`, uuid.UUID(docID))
	return scanDocument(row)
}

func (s *PostgresStore) FindMany(ctx context.Context, docIDs []id.DocumentID) ([]*models.Document, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(docIDs))
	for i, docID := range docIDs {
		ids[i] = docID.String()
	}
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+documentColumns+` FROM user_documents WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) List(ctx context.Context, f models.ListFilter) ([]*models.Document, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	conds := []string{"deleted_at IS NULL"}
	var args []any
	if !f.UserID.IsNil() {
		args = append(args, uuid.UUID(f.UserID))
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !f.RequestID.IsNil() {
		args = append(args, uuid.UUID(f.RequestID))
		conds = append(conds, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, limit, max(f.Offset, 0))
	query := `SELECT ` + documentColumns + ` FROM user_documents WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	var n int
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_documents WHERE deleted_at IS NULL AND status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Execute locks the row, validates, mutates and writes status, metadata and
// deletion back in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, docID id.DocumentID, validate func(*models.Document) error, mutate func(*models.Document)) (*models.Document, error) {
	var result *models.Document
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ex := tx.Exec(txCtx, s.db)
		d, err := scanDocument(ex.QueryRowContext(txCtx,
			`SELECT `+documentColumns+` FROM user_documents WHERE id = $1 FOR UPDATE`, uuid.UUID(docID)))
		if err != nil {
			return err
		}
		if err := validate(d); err != nil {
			return err
		}
		mutate(d)
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("encode document metadata: %w", err)
		}
		_, err = ex.ExecContext(txCtx, `
			UPDATE user_documents SET status = $2, metadata = $3, deleted_at = $4, updated_at = $5
			WHERE id = $1`,
			uuid.UUID(d.ID), string(d.Status), meta, postgres.NullTime(d.DeletedAt), d.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		result = d
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

func collect(rows *sql.Rows) ([]*models.Document, error) {
	defer rows.Close()
	var out []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d               models.Document
		docID, userID   uuid.UUID
		requestID       uuid.NullUUID
		docType, status string
		meta            []byte
		deletedAt       sql.NullTime
	)
	err := row.Scan(&docID, &userID, &requestID, &docType, &d.FileName, &d.ContentType, &d.SizeBytes,
		&d.Checksum, &d.StorageKey, &status, &meta, &deletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode document metadata: %w", err)
		}
	}
	d.ID = id.DocumentID(docID)
	d.UserID = id.UserID(userID)
	d.RequestID = id.RequestID(requestID.UUID)
	d.Type = id.DocumentType(docType)
	d.Status = models.Status(status)
	d.DeletedAt = postgres.TimePtr(deletedAt)
	return &d, nil
}
