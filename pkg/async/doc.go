// Package async provides small generic helpers for running functions
// asynchronously with a Future-based result handle.
//
// Inside billingkit it backs fire-and-forget side effects: notification
// dispatch after a lifecycle operation commits is started with Async and
// never awaited, so mailer latency or failure cannot affect the operation
// outcome.
//
//	future := async.Async(ctx, userID, func(ctx context.Context, id uuid.UUID) (struct{}, error) {
//		return struct{}{}, notifier.JoinConfirmation(ctx, id)
//	})
//
//	// optionally, elsewhere:
//	_, err := future.AwaitWithTimeout(5 * time.Second)
package async
