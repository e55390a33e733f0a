// Package membership wires the billing core into a running service:
// PostgreSQL stores, the persistent task queue, webhook ingestion, outbound
// notifications and the deferred-cancellation sweep.
//
// # Components
//
//   - PgSubscriptionStore / PgInstrumentStore: pgx-backed implementations of
//     the billing store interfaces with transactional composite writes.
//   - PgTaskRepository: PostgreSQL repository for pkg/queue using
//     FOR UPDATE SKIP LOCKED claims.
//   - QueueEnqueuer + NewEntitlementUpdateHandler: the idempotent
//     entitlement-update job dispatched after every subscription change.
//   - QueueNotifier + NewEmailNotificationHandler: membership emails rendered
//     here, delivered by the queue worker through pkg/email.
//   - WebhookHandler: chi endpoint verifying gateway signatures, deduping
//     replayed deliveries through Redis, and feeding the billing Processor.
//   - CancellationSweeper: periodic execution of deferred cancellations
//     whose scheduled date has arrived.
//
// # Wiring sketch
//
//	subs := membership.NewPgSubscriptionStore(pool)
//	instruments := membership.NewPgInstrumentStore(pool)
//	tasks := membership.NewPgTaskRepository(pool)
//
//	enq, _ := queue.NewEnqueuer(tasks)
//	entitlements := membership.NewQueueEnqueuer(enq)
//
//	gateway, _ := billing.NewStripeGateway(stripeCfg)
//	svc := billing.NewService(gateway, subs, instruments, entitlements,
//	    billing.WithNotifier(membership.NewQueueNotifier(enq, users)))
//	processor := billing.NewProcessor(subs, instruments, entitlements)
//
//	hook := membership.NewWebhookHandler(gateway, processor,
//	    membership.WithDeduper(membership.NewRedisDeduper(rdb, 24*time.Hour)))
//	router.Mount("/", hook.Routes())
//
//	sweeper := membership.NewCancellationSweeper(subs, svc)
//	g.Go(sweeper.Run(ctx))
package membership
