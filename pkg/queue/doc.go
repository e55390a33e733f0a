// Package queue implements a database-backed task queue used for background
// work that must survive process restarts: entitlement updates after
// subscription changes and outbound email notifications.
//
// # Components
//
//   - Enqueuer serialises a payload struct to JSON and stores it as a Task.
//     The task name defaults to the payload's qualified struct name.
//   - Worker polls for pending tasks, claims them with a lock, and routes
//     them to registered handlers by task name. Failed tasks retry with
//     backoff and land in a dead letter queue once retries are exhausted.
//   - NewTaskHandler wraps a typed func(ctx, T) error as a Handler whose name
//     matches what Enqueuer derives, so enqueue and handling stay in sync.
//   - MemoryStorage is an in-memory repository implementation for tests and
//     local development; production uses a PostgreSQL-backed repository.
//
// # Quick start
//
//	storage := queue.NewMemoryStorage()
//	defer storage.Close()
//
//	enq, _ := queue.NewEnqueuer(storage)
//	_ = enq.Enqueue(ctx, EntitlementUpdate{UserID: userID})
//
//	w, _ := queue.NewWorker(storage, queue.WithMaxConcurrentTasks(4))
//	_ = w.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, p EntitlementUpdate) error {
//	    return updater.Sync(ctx, p.UserID)
//	}))
//	_ = w.Start(ctx)
//	defer w.Stop()
//
// Tasks claimed by a worker that dies are recovered automatically once their
// lock expires.
package queue
