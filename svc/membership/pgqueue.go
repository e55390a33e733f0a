package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// PgTaskRepository is the PostgreSQL implementation of the queue's enqueuer
// and worker repositories. Claiming uses FOR UPDATE SKIP LOCKED so multiple
// worker processes can poll the same table without contention, and the claim
// query also picks up tasks whose lock expired with a crashed worker.
type PgTaskRepository struct {
	pool *pgxpool.Pool
}

// NewPgTaskRepository creates a task repository backed by the pool. Panics on
// a nil pool.
func NewPgTaskRepository(pool *pgxpool.Pool) *PgTaskRepository {
	if pool == nil {
		panic("membership: pgxpool is required")
	}
	return &PgTaskRepository{pool: pool}
}

func (r *PgTaskRepository) CreateTask(ctx context.Context, task *queue.Task) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tasks (id, queue, task_name, payload, status, priority,
			retry_count, max_retries, scheduled_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.Queue, task.TaskName, task.Payload, task.Status, task.Priority,
		task.RetryCount, task.MaxRetries, task.ScheduledAt, task.CreatedAt,
	)
	return err
}

func (r *PgTaskRepository) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	var task queue.Task

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, queue, task_name, payload, status, priority,
				retry_count, max_retries, scheduled_at, locked_until, locked_by,
				processed_at, error, created_at
			 FROM tasks
			 WHERE queue = ANY($1)
			   AND (
				status = 'pending' AND scheduled_at <= now()
				OR status = 'processing' AND locked_until < now()
			   )
			 ORDER BY priority DESC, scheduled_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT 1`, queues)
		if err := row.Scan(
			&task.ID, &task.Queue, &task.TaskName, &task.Payload, &task.Status, &task.Priority,
			&task.RetryCount, &task.MaxRetries, &task.ScheduledAt, &task.LockedUntil, &task.LockedBy,
			&task.ProcessedAt, &task.Error, &task.CreatedAt,
		); err != nil {
			return err
		}

		lockedUntil := time.Now().Add(lockDuration)
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET status = 'processing', locked_until = $1, locked_by = $2 WHERE id = $3`,
			lockedUntil, workerID, task.ID); err != nil {
			return err
		}

		task.Status = queue.TaskStatusProcessing
		task.LockedUntil = &lockedUntil
		task.LockedBy = &workerID
		return nil
	})
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrNoTaskToClaim
		}
		return nil, err
	}
	return &task, nil
}

func (r *PgTaskRepository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tasks SET status = 'completed', processed_at = now(),
			locked_until = NULL, locked_by = NULL
		 WHERE id = $1 AND status = 'processing'`, taskID)
	return err
}

// FailTask increments the retry count, records the error, and either resets
// the task to pending with a linear backoff or marks it failed when retries
// are exhausted.
func (r *PgTaskRepository) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tasks SET
			retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			scheduled_at = CASE WHEN retry_count + 1 >= max_retries
				THEN scheduled_at
				ELSE now() + (retry_count + 1) * interval '30 seconds' END
		 WHERE id = $1 AND status = 'processing'`, taskID, errorMsg)
	return err
}

func (r *PgTaskRepository) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO tasks_dlq (id, task_id, queue, task_name, payload,
				priority, error, retry_count, failed_at, created_at)
			 SELECT gen_random_uuid(), id, queue, task_name, payload,
				priority, COALESCE(error, ''), retry_count, now(), now()
			 FROM tasks WHERE id = $1`, taskID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
		return err
	})
}

func (r *PgTaskRepository) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tasks SET locked_until = now() + $2 WHERE id = $1 AND status = 'processing'`,
		taskID, duration)
	return err
}

var (
	_ queue.EnqueuerRepository = (*PgTaskRepository)(nil)
	_ queue.WorkerRepository   = (*PgTaskRepository)(nil)
)
