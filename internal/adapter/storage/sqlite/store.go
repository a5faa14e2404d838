package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

const fileName = "clipper.db"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

type Store struct {
	db *sqlx.DB
	q  *queries
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
				"PRAGMA cache_size = -8000",    // 8MB
				"PRAGMA mmap_size = 268435456", // 256MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	db, err := sqlx.Open("sqlite", filepath.Join(dataDir, fileName))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: WAL gives concurrent readers but SQLite has a single writer.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, q: &queries{db: db}}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Atomic runs fn in one transaction. Nothing inside fn may use the Store
// directly: the pool holds a single connection.
func (s *Store) Atomic(ctx context.Context, fn func(tx port.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, j *domain.Job) error {
	return s.q.CreateJob(ctx, j)
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.q.GetJob(ctx, id)
}

func (s *Store) UpdateJob(ctx context.Context, j *domain.Job) error {
	return s.q.UpdateJob(ctx, j)
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.q.DeleteJob(ctx, id)
}

func (s *Store) ListJobsCreatedBefore(ctx context.Context, status domain.JobStatus, cutoff time.Time) ([]*domain.Job, error) {
	return s.q.ListJobsCreatedBefore(ctx, status, cutoff)
}

func (s *Store) CreateSession(ctx context.Context, us *domain.UploadSession) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.CreateSession(ctx, us) })
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	return s.q.GetSession(ctx, id)
}

func (s *Store) GetActiveSession(ctx context.Context, jobID string) (*domain.UploadSession, error) {
	return s.q.GetActiveSession(ctx, jobID)
}

func (s *Store) UpdateSession(ctx context.Context, us *domain.UploadSession) error {
	return s.Atomic(ctx, func(tx port.Tx) error { return tx.UpdateSession(ctx, us) })
}

func (s *Store) CreateClips(ctx context.Context, clips []domain.Clip) error {
	return s.q.CreateClips(ctx, clips)
}

func (s *Store) ListClips(ctx context.Context, jobID string) ([]domain.Clip, error) {
	return s.q.ListClips(ctx, jobID)
}

// queries runs statements against either the pool or an open transaction.
type queries struct {
	db sqlx.ExtContext
}

func (q *queries) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.db.ExecContext(ctx, query, args...)
}

func (q *queries) get(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q.db, dest, query, args...)
}

func (q *queries) selectAll(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q.db, dest, query, args...)
}

// execOne runs b and maps zero affected rows to notFound.
func (q *queries) execOne(ctx context.Context, b sq.Sqlizer, notFound error) error {
	res, err := q.exec(ctx, b)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (q *queries) CreateJob(ctx context.Context, j *domain.Job) error {
	values, err := jobValues(j)
	if err != nil {
		return err
	}
	if _, err := q.exec(ctx, psql.Insert("jobs").SetMap(values)); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (q *queries) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	err := q.get(ctx, &row, psql.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (q *queries) UpdateJob(ctx context.Context, j *domain.Job) error {
	values, err := jobValues(j)
	if err != nil {
		return err
	}
	delete(values, "id")
	delete(values, "created_at")
	return q.execOne(ctx, psql.Update("jobs").SetMap(values).Where(sq.Eq{"id": j.ID}), domain.ErrJobNotFound)
}

// DeleteJob removes the job; its upload sessions go with it through the
// foreign key. Clips are left in place.
func (q *queries) DeleteJob(ctx context.Context, id string) error {
	return q.execOne(ctx, psql.Delete("jobs").Where(sq.Eq{"id": id}), domain.ErrJobNotFound)
}

func (q *queries) ListJobsCreatedBefore(ctx context.Context, status domain.JobStatus, cutoff time.Time) ([]*domain.Job, error) {
	var rows []jobRow
	err := q.selectAll(ctx, &rows, psql.Select(jobColumns...).From("jobs").
		Where(sq.Eq{"status": string(status)}).
		Where(sq.Lt{"created_at": toMillis(cutoff)}).
		OrderBy("created_at"))
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *queries) CreateSession(ctx context.Context, us *domain.UploadSession) error {
	if _, err := q.exec(ctx, psql.Insert("upload_sessions").SetMap(sessionValues(us))); err != nil {
		return fmt.Errorf("insert upload session: %w", err)
	}
	return q.insertParts(ctx, us.ID, us.CompletedParts)
}

func (q *queries) GetSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	return q.getSession(ctx, psql.Select(sessionColumns...).From("upload_sessions").Where(sq.Eq{"id": id}))
}

func (q *queries) GetActiveSession(ctx context.Context, jobID string) (*domain.UploadSession, error) {
	return q.getSession(ctx, psql.Select(sessionColumns...).From("upload_sessions").
		Where(sq.Eq{"job_id": jobID, "status": string(domain.SessionStatusActive)}).
		OrderBy("created_at DESC").
		Limit(1))
}

func (q *queries) getSession(ctx context.Context, b sq.SelectBuilder) (*domain.UploadSession, error) {
	var row sessionRow
	err := q.get(ctx, &row, b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var parts []partRow
	err = q.selectAll(ctx, &parts, psql.Select("part_number", "etag", "size").From("upload_parts").
		Where(sq.Eq{"session_id": row.ID}).
		OrderBy("part_number"))
	if err != nil {
		return nil, fmt.Errorf("list upload parts: %w", err)
	}
	return row.toDomain(parts)
}

func (q *queries) UpdateSession(ctx context.Context, us *domain.UploadSession) error {
	values := sessionValues(us)
	delete(values, "id")
	delete(values, "created_at")
	err := q.execOne(ctx, psql.Update("upload_sessions").SetMap(values).Where(sq.Eq{"id": us.ID}), domain.ErrSessionNotFound)
	if err != nil {
		return err
	}
	var stored []int
	err = q.selectAll(ctx, &stored, psql.Select("part_number").From("upload_parts").Where(sq.Eq{"session_id": us.ID}))
	if err != nil {
		return fmt.Errorf("list upload parts: %w", err)
	}
	seen := make(map[int]struct{}, len(stored))
	for _, n := range stored {
		seen[n] = struct{}{}
	}
	var fresh []domain.CompletedPart
	for _, p := range us.CompletedParts {
		if _, ok := seen[p.PartNumber]; !ok {
			fresh = append(fresh, p)
		}
	}
	return q.insertParts(ctx, us.ID, fresh)
}

// partBatchRows keeps one insert well under SQLite's bound-variable limit.
const partBatchRows = 500

// insertParts appends parts to a session. Parts are write-once, so a part
// number that is already stored keeps its first row.
func (q *queries) insertParts(ctx context.Context, sessionID string, parts []domain.CompletedPart) error {
	for start := 0; start < len(parts); start += partBatchRows {
		end := min(start+partBatchRows, len(parts))
		b := psql.Insert("upload_parts").
			Columns("session_id", "part_number", "etag", "size").
			Suffix("ON CONFLICT(session_id, part_number) DO NOTHING")
		for _, p := range parts[start:end] {
			b = b.Values(sessionID, p.PartNumber, p.ETag, p.Size)
		}
		if _, err := q.exec(ctx, b); err != nil {
			return fmt.Errorf("insert upload parts: %w", err)
		}
	}
	return nil
}

func (q *queries) CreateClips(ctx context.Context, clips []domain.Clip) error {
	if len(clips) == 0 {
		return nil
	}
	b := psql.Insert("clips").Columns(clipColumns...)
	for _, c := range clips {
		values, err := clipValues(c)
		if err != nil {
			return err
		}
		b = b.Values(values...)
	}
	if _, err := q.exec(ctx, b); err != nil {
		return fmt.Errorf("insert clips: %w", err)
	}
	return nil
}

func (q *queries) ListClips(ctx context.Context, jobID string) ([]domain.Clip, error) {
	var rows []clipRow
	err := q.selectAll(ctx, &rows, psql.Select(clipColumns...).From("clips").
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("idx"))
	if err != nil {
		return nil, err
	}

	clips := make([]domain.Clip, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, nil
}

func (q *queries) EnqueueTask(ctx context.Context, t *domain.Task) error {
	_, err := q.exec(ctx, psql.Insert("tasks").SetMap(map[string]any{
		"id":         t.ID,
		"kind":       string(t.Kind),
		"job_id":     t.JobID,
		"object_key": t.Payload.ObjectKey,
		"upload_id":  t.Payload.UploadID,
		"status":     string(t.Status),
		"attempts":   t.Attempts,
		"last_error": t.LastError,
		"run_at":     toMillis(t.RunAt),
		"created_at": toMillis(t.CreatedAt),
		"updated_at": toMillis(t.UpdatedAt),
	}))
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

var (
	_ port.Store = (*Store)(nil)
	_ port.Tx    = (*queries)(nil)
)
