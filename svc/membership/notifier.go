package membership

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// UserDirectory resolves the recipient identity for notification emails.
type UserDirectory interface {
	// Lookup returns the user's display name and email address.
	Lookup(ctx context.Context, userID uuid.UUID) (name, emailAddr string, err error)
}

var joinConfirmationTmpl = template.Must(template.New("join-confirmation").Parse(`<html>
<body>
<p>Hi {{.Name}},</p>
<p>Your membership is confirmed. Billing starts with your first cycle and
renews automatically each month.</p>
<p>Welcome aboard!</p>
</body>
</html>`))

var priorActivityTmpl = template.Must(template.New("prior-activity").Parse(`<html>
<body>
<p>Hi {{.Name}},</p>
<p>We noticed you were active with us before your membership started. Your
earlier activity is now linked to your member account.</p>
</body>
</html>`))

// QueueNotifier implements the billing package's Notifier by enqueuing email
// tasks rather than sending inline, so a slow or failing mail provider never
// delays a lifecycle operation.
type QueueNotifier struct {
	enq   *queue.Enqueuer
	users UserDirectory
}

// NewQueueNotifier creates the queue-backed notifier. Panics on nil deps.
func NewQueueNotifier(enq *queue.Enqueuer, users UserDirectory) *QueueNotifier {
	if enq == nil {
		panic("membership: queue enqueuer is required")
	}
	if users == nil {
		panic("membership: user directory is required")
	}
	return &QueueNotifier{enq: enq, users: users}
}

func (n *QueueNotifier) JoinConfirmation(ctx context.Context, userID uuid.UUID) error {
	return n.send(ctx, userID, "Your membership is confirmed", joinConfirmationTmpl, "join-confirmation")
}

func (n *QueueNotifier) PriorActivityNotice(ctx context.Context, userID uuid.UUID) error {
	return n.send(ctx, userID, "Your earlier activity is linked", priorActivityTmpl, "prior-activity")
}

func (n *QueueNotifier) send(ctx context.Context, userID uuid.UUID, subject string, tmpl *template.Template, tag string) error {
	name, addr, err := n.users.Lookup(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, struct{ Name string }{Name: name}); err != nil {
		return fmt.Errorf("render %s email: %w", tag, err)
	}

	return n.enq.Enqueue(ctx, EmailNotification{
		SendTo:   addr,
		Subject:  subject,
		BodyHTML: body.String(),
		Tag:      tag,
	})
}
