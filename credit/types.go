/*
Package credit provides the installment ledger engine for door-to-door
micro-lending.

PURPOSE:
  This package contains the data model and pure algorithms for installment
  credits: fixed schedules, append-only payment/fine ledgers, payment
  allocation, status classification, and due-date deferrals. Everything here
  is computation over already-fetched records; persistence lives behind the
  Store interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Credit/Installment: an immutable schedule created atomically at origination
  - Payment (abono): general, installment-targeted, or fine-targeted
  - Fine (multa) / FinePayment: a penalty ledger independent of capital
  - Deferral (prórroga): a due-date overlay that never touches the schedule
  - CollectionOrder / NotFoundMarker: per-day operator overrides for the route

DESIGN PRINCIPLES:
  1. Recompute-on-read: balances are derived from full history on every call,
     never maintained incrementally. Edits and deletes just trigger a re-read.
  2. Explicit relations: payments and fines link to installments through
     typed optional fields, never by parsing description text.
  3. Calendar days: all due-date logic uses Date, never timestamps.
  4. Precision: money is decimal, clamped at zero where balances are owed.

SEE ALSO:
  - schedule.go: schedule generation per cadence
  - allocation.go: payment-to-installment allocation
  - status.go: credit and installment state derivation
  - deferral.go: effective due-date resolution
*/
package credit

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CreditID string
type ClientID string
type PaymentID string
type FineID string
type FinePaymentID string
type DiscountID string

// =============================================================================
// CADENCE - Repayment rhythm with a fixed installment count
// =============================================================================

type Cadence string

const (
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceBiweekly Cadence = "biweekly"
	CadenceMonthly  Cadence = "monthly"
)

// InstallmentCount returns the fixed number of installments for a cadence.
// The count is a business constant, not a per-credit choice.
func (c Cadence) InstallmentCount() int {
	switch c {
	case CadenceDaily:
		return 60
	case CadenceWeekly:
		return 10
	case CadenceBiweekly:
		return 5
	case CadenceMonthly:
		return 3
	default:
		return 0
	}
}

func (c Cadence) Valid() bool { return c.InstallmentCount() > 0 }

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	ID        ClientID
	Name      string
	Document  string
	Phone     string
	Address   string
	Portfolio string // cartera tag used to partition the daily route
}

// =============================================================================
// CREDIT + INSTALLMENTS - Created together, schedule write-once
// =============================================================================

// Label is a post-hoc quality tag derived once a credit ends its life.
type Label string

const (
	LabelNone       Label = ""
	LabelExcellent  Label = "excellent"
	LabelGood       Label = "good"
	LabelLate       Label = "late"
	LabelIncomplete Label = "incomplete"
)

// Credit is immutable after origination except for Renewed and Label.
type Credit struct {
	ID               CreditID
	ClientID         ClientID
	Principal        Money
	InstallmentValue Money
	Cadence          Cadence
	StartDate        Date
	InstallmentCount int
	Renewed          bool
	Label            Label
	Installments     []Installment
	CreatedAt        time.Time
}

// Installment is one scheduled repayment unit. ScheduledDate is write-once:
// date changes live in Deferral records, never here.
type Installment struct {
	Number        int // 1..InstallmentCount
	ScheduledDate Date
	PaidManually  bool
	PaidDate      *Date
}

// =============================================================================
// LEDGER RECORDS - Appended over the credit's life
// =============================================================================

// Payment is an abono. It targets at most one of {installment, fine}:
// TargetInstallment pins it to one installment's capital, TargetFineID pins
// it to one fine's balance, and with neither set it is a general payment
// swept across unpaid installments in order.
type Payment struct {
	ID                PaymentID
	CreditID          CreditID
	Value             Money
	Date              Date
	Description       string // cosmetic only, never parsed for logic
	TargetInstallment *int
	TargetFineID      *FineID
	CreatedAt         time.Time // insertion-order tiebreak within a day
}

// IsGeneral reports whether the payment participates in the general sweep.
func (p Payment) IsGeneral() bool {
	return p.TargetInstallment == nil && p.TargetFineID == nil
}

// Fine is a multa. Its balance is settled only by FinePayments, independent
// of installment capital. RelatedInstallment is the explicit link used for
// per-installment fine coverage and overdue checks.
type Fine struct {
	ID                 FineID
	CreditID           CreditID
	Value              Money
	Date               Date
	Motive             string
	RelatedInstallment *int
	CreatedAt          time.Time
}

// FinePayment reduces one fine's balance and nothing else.
type FinePayment struct {
	ID        FinePaymentID
	FineID    FineID
	Value     Money
	Date      Date
	CreatedAt time.Time
}

type DiscountKind string

const (
	DiscountDays   DiscountKind = "days"
	DiscountAmount DiscountKind = "amount"
)

// Discount is applied once at append time and never re-derived: a days
// discount settles trailing installments manually, an amount discount is
// materialized as a general payment flagged in its description.
type Discount struct {
	ID          DiscountID
	CreditID    CreditID
	Kind        DiscountKind
	Value       Money // amount kind
	Days        int   // days kind
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// OVERLAYS - Operator overrides keyed by day or installment
// =============================================================================

// Deferral overrides one installment's effective due date. Multiple writes
// to the same (credit, installment) key: last write wins.
type Deferral struct {
	CreditID          CreditID
	InstallmentNumber int
	NewDueDate        Date
	Reason            string
	CreatedAt         time.Time
}

// CollectionOrder is a manual display rank for one client on one route date.
// Absent rank sorts last; ties break by client name.
type CollectionOrder struct {
	Date     Date
	ClientID ClientID
	Rank     int
}

// NotFoundMarker records that the collector could not reach a client on a
// date. The client carries into the next day's exception queue until the
// marker is cleared.
type NotFoundMarker struct {
	Date     Date
	ClientID ClientID
}

// =============================================================================
// DERIVED STATES
// =============================================================================

type Status string

const (
	StatusCurrent Status = "current"
	StatusOverdue Status = "overdue"
	StatusClosed  Status = "closed"
)

type InstallmentState string

const (
	InstallmentPaid    InstallmentState = "paid"
	InstallmentPartial InstallmentState = "partial"
	InstallmentPending InstallmentState = "pending"
)
