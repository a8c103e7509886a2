/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupled from the domain model.
  Money crosses the wire as decimal strings; dates as bare YYYY-MM-DD
  calendar days (never timestamps - due-date math is day-based end to end).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
*/
package api

import (
	"github.com/gesakro/prestamos/bulk"
	"github.com/gesakro/prestamos/credit"
	"github.com/gesakro/prestamos/route"
)

// =============================================================================
// CLIENTS
// =============================================================================

type ClientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Document  string `json:"document,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	Portfolio string `json:"portfolio"`
}

type CreateClientRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Document  string `json:"document,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	Portfolio string `json:"portfolio"`
}

// =============================================================================
// CREDITS
// =============================================================================

type CreateCreditRequest struct {
	ID               string `json:"id,omitempty"`
	ClientID         string `json:"client_id"`
	Principal        string `json:"principal"`
	InstallmentValue string `json:"installment_value"`
	Cadence          string `json:"cadence"`
	StartDate        string `json:"start_date"`
	// RenewsCreditID marks the named credit as renewed in the same call.
	RenewsCreditID string `json:"renews_credit_id,omitempty"`
}

type InstallmentDTO struct {
	Number           int     `json:"number"`
	ScheduledDate    string  `json:"scheduled_date"`
	EffectiveDueDate string  `json:"effective_due_date"`
	Value            string  `json:"value"`
	Applied          string  `json:"applied"`
	Outstanding      string  `json:"outstanding"`
	State            string  `json:"state"`
	PaidManually     bool    `json:"paid_manually"`
	PaidDate         *string `json:"paid_date,omitempty"`
	Deferred         bool    `json:"deferred"`
}

type FineDTO struct {
	ID                 string `json:"id"`
	Value              string `json:"value"`
	Date               string `json:"date"`
	Motive             string `json:"motive,omitempty"`
	RelatedInstallment *int   `json:"related_installment,omitempty"`
	Covered            string `json:"covered"`
	Outstanding        string `json:"outstanding"`
}

// CreditDetailDTO is the full read model for one credit at a viewing date.
type CreditDetailDTO struct {
	ID               string           `json:"id"`
	ClientID         string           `json:"client_id"`
	Principal        string           `json:"principal"`
	InstallmentValue string           `json:"installment_value"`
	Cadence          string           `json:"cadence"`
	StartDate        string           `json:"start_date"`
	Renewed          bool             `json:"renewed"`
	Label            string           `json:"label,omitempty"`
	Status           string           `json:"status"`
	Outstanding      string           `json:"outstanding"`
	FineOutstanding  string           `json:"fine_outstanding"`
	Installments     []InstallmentDTO `json:"installments"`
	Fines            []FineDTO        `json:"fines"`
}

// =============================================================================
// LEDGER WRITES
// =============================================================================

type PaymentRequest struct {
	ID                string `json:"id,omitempty"`
	Value             string `json:"value"`
	Date              string `json:"date"`
	Description       string `json:"description,omitempty"`
	TargetInstallment *int   `json:"target_installment,omitempty"`
	TargetFineID      string `json:"target_fine_id,omitempty"`
}

type FineRequest struct {
	ID                 string `json:"id,omitempty"`
	Value              string `json:"value"`
	Date               string `json:"date"`
	Motive             string `json:"motive,omitempty"`
	RelatedInstallment *int   `json:"related_installment,omitempty"`
}

type FinePaymentRequest struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Date  string `json:"date"`
}

type DiscountRequest struct {
	ID          string `json:"id,omitempty"`
	Kind        string `json:"kind"` // "days" or "amount"
	Value       string `json:"value,omitempty"`
	Days        int    `json:"days,omitempty"`
	Description string `json:"description,omitempty"`
}

type SettleRequest struct {
	Settled  bool   `json:"settled"`
	PaidDate string `json:"paid_date,omitempty"`
}

type DeferralRequest struct {
	NewDueDate string `json:"new_due_date"`
	Reason     string `json:"reason,omitempty"`
}

// =============================================================================
// ROUTE
// =============================================================================

type RouteLineDTO struct {
	CreditID          string  `json:"credit_id"`
	ClientID          string  `json:"client_id"`
	ClientName        string  `json:"client_name"`
	Cadence           string  `json:"cadence"`
	State             string  `json:"state"`
	AmountDue         string  `json:"amount_due"`
	Collected         string  `json:"collected"`
	CreditOutstanding string  `json:"credit_outstanding"`
	OverdueCount      int     `json:"overdue_count"`
	EarliestOverdue   *string `json:"earliest_overdue,omitempty"`
}

type RouteBucketDTO struct {
	Portfolio string         `json:"portfolio"`
	Lines     []RouteLineDTO `json:"lines"`
}

type UnreportedDTO struct {
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name"`
	Portfolio   string `json:"portfolio"`
	MarkedOn    string `json:"marked_on"`
	CarriedOver bool   `json:"carried_over"`
}

type RouteReportDTO struct {
	Date           string           `json:"date"`
	Buckets        []RouteBucketDTO `json:"buckets"`
	Unreported     []UnreportedDTO  `json:"unreported"`
	PendingTotal   string           `json:"pending_total"`
	CollectedTotal string           `json:"collected_total"`
	ClientCount    int              `json:"client_count"`
}

type OrderEntryRequest struct {
	ClientID string `json:"client_id"`
	Rank     int    `json:"rank"`
}

// =============================================================================
// BULK DEFERRAL
// =============================================================================

type BulkDeferralRequest struct {
	Items []struct {
		CreditID     string `json:"credit_id"`
		Installments []int  `json:"installments,omitempty"`
	} `json:"items"`
	NewDate  string `json:"new_date"`
	ViewDate string `json:"view_date"`
	Reason   string `json:"reason,omitempty"`
}

type BulkJobDTO struct {
	JobID     string   `json:"job_id"`
	Processed int      `json:"processed"`
	Total     int      `json:"total"`
	Done      bool     `json:"done"`
	Succeeded int      `json:"succeeded,omitempty"`
	Canceled  bool     `json:"canceled,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRouteReportDTO(r *route.RouteReport) RouteReportDTO {
	dto := RouteReportDTO{
		Date:           r.Date.String(),
		PendingTotal:   r.PendingTotal.String(),
		CollectedTotal: r.CollectedTotal.String(),
		ClientCount:    r.ClientCount,
		Buckets:        make([]RouteBucketDTO, 0, len(r.Buckets)),
		Unreported:     make([]UnreportedDTO, 0, len(r.Unreported)),
	}
	for _, b := range r.Buckets {
		bucket := RouteBucketDTO{Portfolio: b.Portfolio, Lines: make([]RouteLineDTO, 0, len(b.Lines))}
		for _, l := range b.Lines {
			bucket.Lines = append(bucket.Lines, toRouteLineDTO(l))
		}
		dto.Buckets = append(dto.Buckets, bucket)
	}
	for _, u := range r.Unreported {
		dto.Unreported = append(dto.Unreported, UnreportedDTO{
			ClientID:    string(u.ClientID),
			ClientName:  u.ClientName,
			Portfolio:   u.Portfolio,
			MarkedOn:    u.MarkedOn.String(),
			CarriedOver: u.CarriedOver,
		})
	}
	return dto
}

func toRouteLineDTO(l route.Line) RouteLineDTO {
	dto := RouteLineDTO{
		CreditID:          string(l.CreditID),
		ClientID:          string(l.ClientID),
		ClientName:        l.ClientName,
		Cadence:           string(l.Cadence),
		State:             string(l.State),
		AmountDue:         l.AmountDue.String(),
		Collected:         l.Collected.String(),
		CreditOutstanding: l.CreditOutstanding.String(),
		OverdueCount:      l.OverdueCount,
	}
	if l.EarliestOverdue != nil {
		s := l.EarliestOverdue.String()
		dto.EarliestOverdue = &s
	}
	return dto
}

func toBulkJobDTO(id string, job *bulk.Job) BulkJobDTO {
	processed, total := job.Progress()
	dto := BulkJobDTO{JobID: id, Processed: processed, Total: total}
	if result := job.Result(); result != nil {
		dto.Done = true
		dto.Succeeded = result.Succeeded
		dto.Canceled = result.Canceled
		for _, e := range result.Failed {
			dto.Errors = append(dto.Errors, e.Error())
		}
	}
	return dto
}

func toClientDTO(c credit.Client) ClientDTO {
	return ClientDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Document:  c.Document,
		Phone:     c.Phone,
		Address:   c.Address,
		Portfolio: c.Portfolio,
	}
}
