package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pydra/pydra/master/model"
)

// PostgresStore implements TaskStore against PostgreSQL, the durable
// backend for TaskInstance/WorkUnit records (§3, §6).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a connection pool and verifies
// connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) NextTaskInstanceID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('task_instance_id_seq')`).Scan(&id)
	return id, err
}

func (s *PostgresStore) CreateTaskInstance(ctx context.Context, rec *TaskRecord) error {
	query := `
		INSERT INTO task_instances
			(id, task_key, priority, args, queued_at, started_at, completed_at, status, main_worker_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.TaskKey, rec.Priority, rec.Args, rec.QueuedAt,
		rec.StartedAt, rec.CompletedAt, int(rec.Status), nullableString(rec.MainWorkerID),
	)
	return err
}

func (s *PostgresStore) UpdateTaskInstance(ctx context.Context, rec *TaskRecord) error {
	query := `
		UPDATE task_instances SET
			task_key = $2, priority = $3, args = $4, queued_at = $5,
			started_at = $6, completed_at = $7, status = $8, main_worker_id = $9
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.TaskKey, rec.Priority, rec.Args, rec.QueuedAt,
		rec.StartedAt, rec.CompletedAt, int(rec.Status), nullableString(rec.MainWorkerID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("store: task instance not found")
	}
	return nil
}

func (s *PostgresStore) GetTaskInstance(ctx context.Context, id int64) (*TaskRecord, error) {
	query := `
		SELECT id, task_key, priority, args, queued_at, started_at, completed_at, status, main_worker_id
		FROM task_instances WHERE id = $1
	`
	return s.scanOneTask(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ListTaskInstancesByStatus(ctx context.Context, statuses ...model.Status) ([]*TaskRecord, error) {
	ints := make([]int, len(statuses))
	for i, st := range statuses {
		ints[i] = int(st)
	}
	query := `
		SELECT id, task_key, priority, args, queued_at, started_at, completed_at, status, main_worker_id
		FROM task_instances WHERE status = ANY($1)
	`
	rows, err := s.pool.Query(ctx, query, ints)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

func (s *PostgresStore) ListTaskInstancesByKey(ctx context.Context, taskKey string, page, pageSize int) ([]*TaskRecord, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	query := `
		SELECT id, task_key, priority, args, queued_at, started_at, completed_at, status, main_worker_id
		FROM task_instances WHERE task_key = $1
		ORDER BY queued_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, taskKey, pageSize, page*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

func (s *PostgresStore) scanOneTask(row pgx.Row) (*TaskRecord, error) {
	var rec TaskRecord
	var status int
	var mainWorkerID *string
	err := row.Scan(&rec.ID, &rec.TaskKey, &rec.Priority, &rec.Args, &rec.QueuedAt,
		&rec.StartedAt, &rec.CompletedAt, &status, &mainWorkerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	if mainWorkerID != nil {
		rec.MainWorkerID = *mainWorkerID
	}
	return &rec, nil
}

func (s *PostgresStore) scanTasks(rows pgx.Rows) ([]*TaskRecord, error) {
	out := make([]*TaskRecord, 0)
	for rows.Next() {
		var rec TaskRecord
		var status int
		var mainWorkerID *string
		if err := rows.Scan(&rec.ID, &rec.TaskKey, &rec.Priority, &rec.Args, &rec.QueuedAt,
			&rec.StartedAt, &rec.CompletedAt, &status, &mainWorkerID); err != nil {
			return nil, err
		}
		rec.Status = model.Status(status)
		if mainWorkerID != nil {
			rec.MainWorkerID = *mainWorkerID
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) NextWorkUnitID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('work_unit_id_seq')`).Scan(&id)
	return id, err
}

func (s *PostgresStore) CreateWorkUnit(ctx context.Context, rec *WorkUnitRecord) error {
	query := `
		INSERT INTO work_units
			(id, task_instance_id, subtask_key, workunit_key, args, worker_id, started_at, completed_at, status, on_main_worker)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.TaskInstanceID, rec.SubtaskKey, rec.WorkunitKey, rec.Args,
		nullableString(rec.WorkerID), rec.StartedAt, rec.CompletedAt, int(rec.Status), rec.OnMainWorker,
	)
	return err
}

func (s *PostgresStore) UpdateWorkUnit(ctx context.Context, rec *WorkUnitRecord) error {
	query := `
		UPDATE work_units SET
			worker_id = $2, started_at = $3, completed_at = $4, status = $5, on_main_worker = $6
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.ID, nullableString(rec.WorkerID), rec.StartedAt, rec.CompletedAt, int(rec.Status), rec.OnMainWorker,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("store: work unit not found")
	}
	return nil
}

func (s *PostgresStore) ListWorkUnitsByTaskInstance(ctx context.Context, taskInstanceID int64) ([]*WorkUnitRecord, error) {
	query := `
		SELECT id, task_instance_id, subtask_key, workunit_key, args, worker_id, started_at, completed_at, status, on_main_worker
		FROM work_units WHERE task_instance_id = $1
	`
	rows, err := s.pool.Query(ctx, query, taskInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*WorkUnitRecord, 0)
	for rows.Next() {
		var rec WorkUnitRecord
		var status int
		var workerID *string
		if err := rows.Scan(&rec.ID, &rec.TaskInstanceID, &rec.SubtaskKey, &rec.WorkunitKey, &rec.Args,
			&workerID, &rec.StartedAt, &rec.CompletedAt, &status, &rec.OnMainWorker); err != nil {
			return nil, err
		}
		rec.Status = model.Status(status)
		if workerID != nil {
			rec.WorkerID = *workerID
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
