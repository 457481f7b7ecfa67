package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

//go:embed schema.sql
var schema string

// ConnectionParams are the PostgreSQL connection settings.
type ConnectionParams struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the params as a keyword/value connection string.
func (p ConnectionParams) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host,
		p.Port,
		p.User,
		p.Password,
		p.DBName,
		p.SSLMode,
	)
}

// Connect opens a pool and checks that the server answers.
func Connect(ctx context.Context, params ConnectionParams) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, params.DSN())
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Postgres implements Store on PostgreSQL with pgvector.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const fileColumns = `f.id::text, f.project_id, f.path, f.meta, f.created_at, f.updated_at`

func scanFile(row pgx.Row) (*File, error) {
	var f File
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Meta, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (p *Postgres) FindFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files f WHERE f.project_id = $1 AND f.path = $2`,
		projectID, path)
	f, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("file %s in project %s: %w", path, projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find file: %w", err)
	}
	return f, nil
}

// CreateFile inserts a file row. A concurrent insert of the same path wins
// the row and this call adopts it with the new metadata.
func (p *Postgres) CreateFile(ctx context.Context, projectID, path string, meta map[string]any) (*File, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO files AS f (id, project_id, path, meta)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, path) DO UPDATE
		SET meta = EXCLUDED.meta, updated_at = now()
		RETURNING `+fileColumns,
		uuid.NewString(), projectID, path, meta)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}

func (p *Postgres) UpdateFileMeta(ctx context.Context, fileID string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE files SET meta = $2, updated_at = now() WHERE id = $1`,
		fileID, meta)
	if err != nil {
		return fmt.Errorf("update file meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) DeleteSections(ctx context.Context, fileID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM file_sections WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("delete sections: %w", err)
	}
	return nil
}

const insertSection = `
	INSERT INTO file_sections (id, file_id, ordinal, content, token_count, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)`

func sectionArgs(r SectionRecord) []any {
	return []any{uuid.NewString(), r.FileID, r.Ordinal, r.Content, r.TokenCount, pgvector.NewVector(r.Embedding)}
}

// InsertSections writes all records in one transaction.
func (p *Postgres) InsertSections(ctx context.Context, records []SectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(insertSection, sectionArgs(r)...)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range records {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert section %d: %w", i, err)
			}
		}
		return br.Close()
	})
}

func (p *Postgres) InsertSection(ctx context.Context, record SectionRecord) error {
	if _, err := p.pool.Exec(ctx, insertSection, sectionArgs(record)...); err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

func (p *Postgres) ListFiles(ctx context.Context, projectID string) ([]File, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+fileColumns+`, count(s.id)
		FROM files f
		LEFT JOIN file_sections s ON s.file_id = f.id
		WHERE f.project_id = $1
		GROUP BY f.id
		ORDER BY f.path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Meta, &f.CreatedAt, &f.UpdatedAt, &f.Sections); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (p *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
