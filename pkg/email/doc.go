// Package email provides transactional email delivery for billing
// notifications: join confirmations, payment failure notices and upcoming
// cancellation reminders.
//
// The EmailSender interface has two implementations:
//
//   - NewPostmarkClient sends through Postmark's transactional API.
//   - NewDevSender writes each email to disk for local development.
//
// # Usage
//
//	import "github.com/dmitrymomot/billingkit/pkg/email"
//
//	var cfg email.Config
//	config.MustLoad(&cfg)
//
//	sender, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//	    return err
//	}
//
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "member@example.com",
//	    Subject:  "Welcome aboard",
//	    BodyHTML: body,
//	    Tag:      "join-confirmation",
//	})
//
// Errors wrap the ErrFailedToSendEmail, ErrInvalidConfig and ErrInvalidParams
// sentinels for errors.Is checks.
package email
