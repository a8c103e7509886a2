/*
store.go - Persistence interfaces for credit records

PURPOSE:
  The boundary between the pure engine and whatever stores the records.
  The engine reads already-fetched snapshots and hands writes to a Store;
  it never patches derived state, because derived state is recomputed from
  history on every read.

CONTRACT:
  - Ledger records (payments, fines, fine payments, discounts) are appended;
    corrections are whole-record edits or deletes, and every write is
    followed by full recomputation on the next read. Stale snapshots are
    never reused across a write.
  - Deferrals, collection order, and not-found markers are keyed upserts
    with last-write-wins semantics. The Store owns serialization of
    concurrent writes to the same key.

IMPLEMENTATIONS:
  - credit/store: in-memory, for tests and development
  - store/sqlite: production SQLite
*/
package credit

import "context"

// Store combines every persistence capability the engine consumes.
type Store interface {
	CreditStore
	LedgerStore
	OverlayStore
}

// =============================================================================
// CREDIT STORE - Clients and credits with nested installments
// =============================================================================

type CreditStore interface {
	SaveClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	ListClients(ctx context.Context) ([]Client, error)

	// SaveCredit persists a credit together with its full installment set,
	// atomically. A credit is never stored without its schedule.
	SaveCredit(ctx context.Context, c *Credit) error
	GetCredit(ctx context.Context, id CreditID) (*Credit, error)
	ListCredits(ctx context.Context) ([]*Credit, error)

	// The only mutable credit fields.
	SetRenewed(ctx context.Context, id CreditID, renewed bool) error
	SetLabel(ctx context.Context, id CreditID, label Label) error

	// SetInstallmentSettled flips an installment's manual-settle flag.
	// ScheduledDate is write-once; this is the only installment mutation.
	SetInstallmentSettled(ctx context.Context, id CreditID, number int, settled bool, paidDate *Date) error
}

// =============================================================================
// LEDGER STORE - Append-oriented payment/fine history
// =============================================================================

type LedgerStore interface {
	AppendPayment(ctx context.Context, p Payment) error
	// UpdatePayment replaces value/date/description/targets of an existing
	// payment. The record is replaced whole; allocation re-derives the rest.
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id PaymentID) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	PaymentsByCredit(ctx context.Context, id CreditID) ([]Payment, error)

	AppendFine(ctx context.Context, f Fine) error
	UpdateFine(ctx context.Context, f Fine) error
	DeleteFine(ctx context.Context, id FineID) error
	GetFine(ctx context.Context, id FineID) (*Fine, error)
	FinesByCredit(ctx context.Context, id CreditID) ([]Fine, error)

	AppendFinePayment(ctx context.Context, fp FinePayment) error
	FinePaymentsByFine(ctx context.Context, id FineID) ([]FinePayment, error)
	FinePaymentsByCredit(ctx context.Context, id CreditID) ([]FinePayment, error)

	AppendDiscount(ctx context.Context, d Discount) error
	DiscountsByCredit(ctx context.Context, id CreditID) ([]Discount, error)
}

// =============================================================================
// OVERLAY STORE - Keyed operator overrides, last write wins
// =============================================================================

type OverlayStore interface {
	UpsertDeferral(ctx context.Context, d Deferral) error
	DeleteDeferral(ctx context.Context, id CreditID, installmentNumber int) error
	DeferralsByCredit(ctx context.Context, id CreditID) ([]Deferral, error)
	ListDeferrals(ctx context.Context) ([]Deferral, error)

	UpsertCollectionOrder(ctx context.Context, o CollectionOrder) error
	DeleteCollectionOrder(ctx context.Context, date Date, clientID ClientID) error
	CollectionOrderForDate(ctx context.Context, date Date) ([]CollectionOrder, error)

	MarkNotFound(ctx context.Context, m NotFoundMarker) error
	ClearNotFound(ctx context.Context, date Date, clientID ClientID) error
	NotFoundForDate(ctx context.Context, date Date) ([]NotFoundMarker, error)
	// LatestNotFoundBefore returns, per client, the most recent uncleared
	// marker dated strictly before the given date. A marker keeps a client
	// in the exception queue until it is cleared, no matter how old.
	LatestNotFoundBefore(ctx context.Context, date Date) ([]NotFoundMarker, error)
}
