package billing

import (
	"time"

	"github.com/google/uuid"
)

// InstrumentType distinguishes directly tokenized cards from external
// wallet-style instruments (PayPal and the like).
type InstrumentType string

const (
	InstrumentTypeCard           InstrumentType = "card"
	InstrumentTypeExternalWallet InstrumentType = "external_wallet"
)

// PaymentInstrument is a gateway-tokenized payment credential owned by a
// user. Superseded instruments are soft-deleted rather than removed so
// historical joins against invoices stay intact.
type PaymentInstrument struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Type   InstrumentType

	// Token is the opaque identifier issued by the gateway when the user
	// registered the credential. At most one live instrument per
	// (owner, token) exists at any time.
	Token string

	CardBrand    string
	CardLast4    string
	CardExpMonth int
	CardExpYear  int

	BillingName  string
	BillingEmail string

	// DeletedAt is the soft-delete tombstone. Queries filter deleted rows
	// by default.
	DeletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Live reports whether the instrument has not been superseded or revoked.
func (i *PaymentInstrument) Live() bool {
	return i.DeletedAt == nil
}

// CardPayment reports whether the instrument is a tokenized card.
func (i *PaymentInstrument) CardPayment() bool {
	return i.Type == InstrumentTypeCard
}
