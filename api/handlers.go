/*
handlers.go - HTTP API handlers for the collection ledger

PURPOSE:
  Exposes the credit ledger and route engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.
  Balances are never stored: every read recomputes them from the ledger.

ENDPOINTS:
  Clients:
    GET    /api/clients                 List all clients
    POST   /api/clients                 Create client
    GET    /api/clients/{id}            Get client

  Credits:
    GET    /api/credits                 List credits (summary)
    POST   /api/credits                 Originate credit (optionally renewing another)
    GET    /api/credits/{id}            Full detail: schedule, balances, fines, status
    POST   /api/credits/{id}/renew      Mark renewed (drops off the route)

  Ledger:
    POST   /api/credits/{id}/payments          Append payment
    PUT    /api/credits/{id}/payments/{pid}    Edit payment (recompute follows)
    DELETE /api/credits/{id}/payments/{pid}    Delete payment
    POST   /api/credits/{id}/fines             Append fine
    PUT    /api/credits/{id}/fines/{fid}       Edit fine
    DELETE /api/credits/{id}/fines/{fid}       Delete fine (cascades its payments)
    POST   /api/credits/{id}/fines/{fid}/payments  Append fine payment
    POST   /api/credits/{id}/discounts         Apply discount (days or amount)
    PUT    /api/credits/{id}/installments/{n}/settle  Manual settle toggle

  Deferrals:
    PUT    /api/credits/{id}/deferrals/{n}     Upsert deferral (last write wins)
    DELETE /api/credits/{id}/deferrals/{n}     Remove deferral
    POST   /api/deferrals/bulk                 Start bulk deferral job
    GET    /api/deferrals/bulk/{jobID}         Job progress / result
    DELETE /api/deferrals/bulk/{jobID}         Cancel job

  Route:
    GET    /api/route?date=YYYY-MM-DD          Day's collection route
    PUT    /api/route/{date}/order             Set manual visit order
    PUT    /api/route/{date}/not-found/{clientID}   Mark client unreported
    DELETE /api/route/{date}/not-found/{clientID}   Clear marker

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Credit/client/fine/payment not found
  - 409: Duplicate ID
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background label refresh
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gesakro/prestamos/bulk"
	"github.com/gesakro/prestamos/credit"
	"github.com/gesakro/prestamos/route"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store credit.Store
	Log   *zap.Logger
	Bulk  *bulk.Runner

	// now is swappable in tests; defaults to credit.Today.
	now func() credit.Date

	mu   sync.Mutex
	jobs map[string]*bulk.Job
}

// NewHandler creates a new handler with the given store.
func NewHandler(st credit.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store: st,
		Log:   log,
		Bulk:  bulk.NewRunner(st, log),
		now:   credit.Today,
		jobs:  make(map[string]*bulk.Job),
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClient returns a single client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := credit.ClientID(chi.URLParam(r, "id"))

	c, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// CreateClient creates a new client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	c := credit.Client{
		ID:        credit.ClientID(req.ID),
		Name:      req.Name,
		Document:  req.Document,
		Phone:     req.Phone,
		Address:   req.Address,
		Portfolio: req.Portfolio,
	}
	if err := h.Store.SaveClient(r.Context(), c); err != nil {
		writeDomainError(w, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

// ListCredits returns a summary row per credit at today's date.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credits, err := h.Store.ListCredits(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list credits", err)
		return
	}

	today := h.now()
	dtos := make([]CreditDetailDTO, 0, len(credits))
	for _, c := range credits {
		dto, err := h.creditDetail(ctx, c, today)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute credit detail", err)
			return
		}
		// Summary view: drop the per-installment rows to keep the list light.
		dto.Installments = nil
		dto.Fines = nil
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCredit originates a new credit with its full schedule, optionally
// marking a previous credit as renewed in the same call.
func (h *Handler) CreateCredit(w http.ResponseWriter, r *http.Request) {
	var req CreateCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := credit.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	principal, err := parseMoney(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal", err)
		return
	}
	installmentValue, err := parseMoney(req.InstallmentValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment_value", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx := r.Context()
	if _, err := h.Store.GetClient(ctx, credit.ClientID(req.ClientID)); err != nil {
		writeDomainError(w, "Client lookup failed", err)
		return
	}

	c, err := credit.NewCredit(
		credit.CreditID(req.ID),
		credit.ClientID(req.ClientID),
		principal,
		installmentValue,
		credit.Cadence(req.Cadence),
		start,
	)
	if err != nil {
		writeDomainError(w, "Invalid credit", err)
		return
	}
	if err := h.Store.SaveCredit(ctx, c); err != nil {
		writeDomainError(w, "Failed to save credit", err)
		return
	}

	if req.RenewsCreditID != "" {
		if err := h.Store.SetRenewed(ctx, credit.CreditID(req.RenewsCreditID), true); err != nil {
			writeDomainError(w, "Failed to mark previous credit renewed", err)
			return
		}
	}

	dto, err := h.creditDetail(ctx, c, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute credit detail", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// GetCredit returns the full read model for one credit. An optional
// ?date=YYYY-MM-DD query sets the viewing date for status classification.
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.Store.GetCredit(ctx, credit.CreditID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}

	viewDate := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		viewDate, err = credit.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	dto, err := h.creditDetail(ctx, c, viewDate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute credit detail", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// RenewCredit marks a credit renewed. Its ledger stays intact but the
// credit stops appearing on routes and in status sweeps.
func (h *Handler) RenewCredit(w http.ResponseWriter, r *http.Request) {
	id := credit.CreditID(chi.URLParam(r, "id"))
	if err := h.Store.SetRenewed(r.Context(), id, true); err != nil {
		writeDomainError(w, "Failed to renew credit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renewed"})
}

// creditDetail builds the full read model: allocation, fine coverage,
// status, effective due dates. One ledger read, everything derived.
func (h *Handler) creditDetail(ctx context.Context, c *credit.Credit, viewDate credit.Date) (CreditDetailDTO, error) {
	payments, err := h.Store.PaymentsByCredit(ctx, c.ID)
	if err != nil {
		return CreditDetailDTO{}, err
	}
	fines, err := h.Store.FinesByCredit(ctx, c.ID)
	if err != nil {
		return CreditDetailDTO{}, err
	}
	finePayments, err := h.Store.FinePaymentsByCredit(ctx, c.ID)
	if err != nil {
		return CreditDetailDTO{}, err
	}
	defs, err := h.Store.DeferralsByCredit(ctx, c.ID)
	if err != nil {
		return CreditDetailDTO{}, err
	}
	deferrals := credit.NewDeferralSet(defs)

	balances := credit.Allocate(c.Installments, c.InstallmentValue, payments)
	fineBalances := credit.CoverFines(fines, finePayments)
	fineOutstanding := credit.FineOutstandingByInstallment(fineBalances)
	status := credit.ClassifyStatus(c, balances, fineOutstanding, deferrals, viewDate)

	dto := CreditDetailDTO{
		ID:               string(c.ID),
		ClientID:         string(c.ClientID),
		Principal:        c.Principal.String(),
		InstallmentValue: c.InstallmentValue.String(),
		Cadence:          string(c.Cadence),
		StartDate:        c.StartDate.String(),
		Renewed:          c.Renewed,
		Label:            string(c.Label),
		Status:           string(status),
		Outstanding:      credit.TotalOutstanding(balances).String(),
		FineOutstanding:  credit.TotalFineOutstanding(fineBalances).String(),
		Installments:     make([]InstallmentDTO, 0, len(balances)),
		Fines:            make([]FineDTO, 0, len(fineBalances)),
	}

	for i, b := range balances {
		inst := c.Installments[i]
		eff := deferrals.EffectiveDueDate(c.ID, b.Number, b.ScheduledDate)
		_, deferred := deferrals.Get(c.ID, b.Number)
		row := InstallmentDTO{
			Number:           b.Number,
			ScheduledDate:    b.ScheduledDate.String(),
			EffectiveDueDate: eff.String(),
			Value:            b.Value.String(),
			Applied:          b.Applied.String(),
			Outstanding:      b.Outstanding.String(),
			State:            string(b.State),
			PaidManually:     b.PaidManually,
			Deferred:         deferred,
		}
		if inst.PaidDate != nil {
			s := inst.PaidDate.String()
			row.PaidDate = &s
		}
		dto.Installments = append(dto.Installments, row)
	}
	for _, fb := range fineBalances {
		dto.Fines = append(dto.Fines, FineDTO{
			ID:                 string(fb.FineID),
			Value:              fb.Value.String(),
			Date:               fb.Date.String(),
			Motive:             fb.Motive,
			RelatedInstallment: fb.RelatedInstallment,
			Covered:            fb.Covered.String(),
			Outstanding:        fb.Outstanding.String(),
		})
	}
	return dto, nil
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment appends a payment to the credit's ledger.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Store.GetCredit(ctx, creditID)
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}

	p, err := h.paymentFromRequest(ctx, c, req)
	if err != nil {
		writeDomainError(w, "Invalid payment", err)
		return
	}
	if err := h.Store.AppendPayment(ctx, p); err != nil {
		writeDomainError(w, "Failed to append payment", err)
		return
	}

	h.Log.Info("payment appended",
		zap.String("credit_id", string(creditID)),
		zap.String("payment_id", string(p.ID)),
		zap.String("value", p.Value.String()))

	dto, err := h.creditDetail(ctx, c, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute credit detail", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// UpdatePayment edits a ledger row in place. Balances shift on the next
// read; nothing else needs touching.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	paymentID := credit.PaymentID(chi.URLParam(r, "pid"))

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Store.GetCredit(ctx, creditID)
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}
	existing, err := h.Store.GetPayment(ctx, paymentID)
	if err != nil {
		writeDomainError(w, "Failed to get payment", err)
		return
	}

	req.ID = string(paymentID)
	p, err := h.paymentFromRequest(ctx, c, req)
	if err != nil {
		writeDomainError(w, "Invalid payment", err)
		return
	}
	p.CreatedAt = existing.CreatedAt // keep original ledger position

	if err := h.Store.UpdatePayment(ctx, p); err != nil {
		writeDomainError(w, "Failed to update payment", err)
		return
	}

	dto, err := h.creditDetail(ctx, c, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute credit detail", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeletePayment removes a ledger row.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	paymentID := credit.PaymentID(chi.URLParam(r, "pid"))
	if err := h.Store.DeletePayment(r.Context(), paymentID); err != nil {
		writeDomainError(w, "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) paymentFromRequest(ctx context.Context, c *credit.Credit, req PaymentRequest) (credit.Payment, error) {
	value, err := parseMoney(req.Value)
	if err != nil {
		return credit.Payment{}, &credit.ValidationError{Field: "payment.value", Reason: err.Error()}
	}
	date, err := credit.ParseDate(req.Date)
	if err != nil {
		return credit.Payment{}, &credit.ValidationError{Field: "payment.date", Reason: "use YYYY-MM-DD"}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	p := credit.Payment{
		ID:                credit.PaymentID(req.ID),
		CreditID:          c.ID,
		Value:             value,
		Date:              date,
		Description:       req.Description,
		TargetInstallment: req.TargetInstallment,
		CreatedAt:         time.Now().UTC(),
	}
	if req.TargetFineID != "" {
		fid := credit.FineID(req.TargetFineID)
		if _, err := h.Store.GetFine(ctx, fid); err != nil {
			return credit.Payment{}, err
		}
		p.TargetFineID = &fid
	}
	if err := credit.ValidatePayment(c, p); err != nil {
		return credit.Payment{}, err
	}
	return p, nil
}

// =============================================================================
// FINE HANDLERS
// =============================================================================

// CreateFine appends a fine to the credit.
func (h *Handler) CreateFine(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	var req FineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Store.GetCredit(ctx, creditID)
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}

	f, err := fineFromRequest(c, req)
	if err != nil {
		writeDomainError(w, "Invalid fine", err)
		return
	}
	if err := h.Store.AppendFine(ctx, f); err != nil {
		writeDomainError(w, "Failed to append fine", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(f.ID)})
}

// UpdateFine edits a fine row.
func (h *Handler) UpdateFine(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	fineID := credit.FineID(chi.URLParam(r, "fid"))

	var req FineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Store.GetCredit(ctx, creditID)
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}
	existing, err := h.Store.GetFine(ctx, fineID)
	if err != nil {
		writeDomainError(w, "Failed to get fine", err)
		return
	}

	req.ID = string(fineID)
	f, err := fineFromRequest(c, req)
	if err != nil {
		writeDomainError(w, "Invalid fine", err)
		return
	}
	f.CreatedAt = existing.CreatedAt

	if err := h.Store.UpdateFine(ctx, f); err != nil {
		writeDomainError(w, "Failed to update fine", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(f.ID)})
}

// DeleteFine removes a fine and its fine payments.
func (h *Handler) DeleteFine(w http.ResponseWriter, r *http.Request) {
	fineID := credit.FineID(chi.URLParam(r, "fid"))
	if err := h.Store.DeleteFine(r.Context(), fineID); err != nil {
		writeDomainError(w, "Failed to delete fine", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateFinePayment appends a payment against a specific fine.
func (h *Handler) CreateFinePayment(w http.ResponseWriter, r *http.Request) {
	fineID := credit.FineID(chi.URLParam(r, "fid"))
	var req FinePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	f, err := h.Store.GetFine(ctx, fineID)
	if err != nil {
		writeDomainError(w, "Failed to get fine", err)
		return
	}

	value, err := parseMoney(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid value", err)
		return
	}
	date, err := credit.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	fp := credit.FinePayment{
		ID:        credit.FinePaymentID(req.ID),
		FineID:    f.ID,
		Value:     value,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	}
	if err := credit.ValidateFinePayment(f, fp); err != nil {
		writeDomainError(w, "Invalid fine payment", err)
		return
	}
	if err := h.Store.AppendFinePayment(ctx, fp); err != nil {
		writeDomainError(w, "Failed to append fine payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(fp.ID)})
}

func fineFromRequest(c *credit.Credit, req FineRequest) (credit.Fine, error) {
	value, err := parseMoney(req.Value)
	if err != nil {
		return credit.Fine{}, &credit.ValidationError{Field: "fine.value", Reason: err.Error()}
	}
	date, err := credit.ParseDate(req.Date)
	if err != nil {
		return credit.Fine{}, &credit.ValidationError{Field: "fine.date", Reason: "use YYYY-MM-DD"}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	f := credit.Fine{
		ID:                 credit.FineID(req.ID),
		CreditID:           c.ID,
		Value:              value,
		Date:               date,
		Motive:             req.Motive,
		RelatedInstallment: req.RelatedInstallment,
		CreatedAt:          time.Now().UTC(),
	}
	if err := credit.ValidateFine(c, f); err != nil {
		return credit.Fine{}, err
	}
	return f, nil
}

// =============================================================================
// DISCOUNT AND SETTLE HANDLERS
// =============================================================================

// CreateDiscount applies a discount to the credit.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	var req DiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Store.GetCredit(ctx, creditID)
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	d := credit.Discount{
		ID:          credit.DiscountID(req.ID),
		CreditID:    creditID,
		Kind:        credit.DiscountKind(req.Kind),
		Days:        req.Days,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if req.Value != "" {
		d.Value, err = parseMoney(req.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value", err)
			return
		}
	}

	if err := credit.ApplyDiscount(ctx, h.Store, c, d, h.now()); err != nil {
		writeDomainError(w, "Failed to apply discount", err)
		return
	}

	// Re-read: the discount may have flipped manual-settle flags.
	c, err = h.Store.GetCredit(ctx, creditID)
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}
	dto, err := h.creditDetail(ctx, c, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute credit detail", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// SettleInstallment flips an installment's manual-settle flag. A settled
// installment leaves the allocation pool without any ledger entry.
func (h *Handler) SettleInstallment(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	number, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment number", err)
		return
	}

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var paidDate *credit.Date
	if req.Settled {
		d := h.now()
		if req.PaidDate != "" {
			d, err = credit.ParseDate(req.PaidDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid paid_date format (use YYYY-MM-DD)", err)
				return
			}
		}
		paidDate = &d
	}

	if err := h.Store.SetInstallmentSettled(r.Context(), creditID, number, req.Settled, paidDate); err != nil {
		writeDomainError(w, "Failed to settle installment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": number, "settled": req.Settled})
}

// =============================================================================
// DEFERRAL HANDLERS
// =============================================================================

// UpsertDeferral moves one installment's effective due date. Rewriting an
// existing deferral replaces it; the scheduled date is never touched.
func (h *Handler) UpsertDeferral(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	number, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment number", err)
		return
	}

	var req DeferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	newDate, err := credit.ParseDate(req.NewDueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid new_due_date format (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	c, err := h.Store.GetCredit(ctx, creditID)
	if err != nil {
		writeDomainError(w, "Failed to get credit", err)
		return
	}

	d := credit.Deferral{
		CreditID:          creditID,
		InstallmentNumber: number,
		NewDueDate:        newDate,
		Reason:            req.Reason,
		CreatedAt:         time.Now().UTC(),
	}
	if err := credit.ValidateDeferral(c, d); err != nil {
		writeDomainError(w, "Invalid deferral", err)
		return
	}
	if err := h.Store.UpsertDeferral(ctx, d); err != nil {
		writeDomainError(w, "Failed to save deferral", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"installment": number, "new_due_date": newDate.String()})
}

// DeleteDeferral removes a deferral, restoring the scheduled date.
func (h *Handler) DeleteDeferral(w http.ResponseWriter, r *http.Request) {
	creditID := credit.CreditID(chi.URLParam(r, "id"))
	number, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment number", err)
		return
	}
	if err := h.Store.DeleteDeferral(r.Context(), creditID, number); err != nil {
		writeDomainError(w, "Failed to delete deferral", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BULK DEFERRAL HANDLERS
// =============================================================================

// StartBulkDeferral launches a background batch job and returns its ID
// immediately. Poll GET /api/deferrals/bulk/{jobID} for progress.
func (h *Handler) StartBulkDeferral(w http.ResponseWriter, r *http.Request) {
	var req BulkDeferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty", nil)
		return
	}
	newDate, err := credit.ParseDate(req.NewDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid new_date format (use YYYY-MM-DD)", err)
		return
	}
	viewDate := h.now()
	if req.ViewDate != "" {
		viewDate, err = credit.ParseDate(req.ViewDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid view_date format (use YYYY-MM-DD)", err)
			return
		}
	}

	items := make([]bulk.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = bulk.Item{CreditID: credit.CreditID(it.CreditID), Installments: it.Installments}
	}

	// The job must outlive this request; it gets its own context.
	job := h.Bulk.Start(context.Background(), items, newDate, viewDate, req.Reason)
	jobID := uuid.NewString()

	h.mu.Lock()
	h.jobs[jobID] = job
	h.mu.Unlock()

	h.Log.Info("bulk deferral started",
		zap.String("job_id", jobID),
		zap.Int("items", len(items)),
		zap.String("new_date", newDate.String()))

	writeJSON(w, http.StatusAccepted, toBulkJobDTO(jobID, job))
}

// GetBulkJob reports a job's progress, and its result once done.
func (h *Handler) GetBulkJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	h.mu.Lock()
	job, ok := h.jobs[jobID]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBulkJobDTO(jobID, job))
}

// CancelBulkJob requests cancellation. Items already processed stay
// deferred; the result reports partial counts.
func (h *Handler) CancelBulkJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	h.mu.Lock()
	job, ok := h.jobs[jobID]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", nil)
		return
	}
	job.Cancel()
	writeJSON(w, http.StatusOK, toBulkJobDTO(jobID, job))
}

// =============================================================================
// ROUTE HANDLERS
// =============================================================================

// GetRoute returns the day's collection route. Defaults to today;
// ?date= views another day (past days replay, near-future days preview).
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	target := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		var err error
		target, err = credit.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	ctx := r.Context()
	snap, err := route.LoadSnapshot(ctx, h.Store, target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load route data", err)
		return
	}
	report, err := route.BuildRoute(route.RouteInput{
		TargetDate: target,
		Today:      h.now(),
		Snapshot:   snap,
	})
	if err != nil {
		writeDomainError(w, "Failed to build route", err)
		return
	}
	writeJSON(w, http.StatusOK, toRouteReportDTO(report))
}

// SetCollectionOrder replaces the manual visit order for one date.
func (h *Handler) SetCollectionOrder(w http.ResponseWriter, r *http.Request) {
	date, err := credit.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	var entries []OrderEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	for _, e := range entries {
		o := credit.CollectionOrder{
			Date:     date,
			ClientID: credit.ClientID(e.ClientID),
			Rank:     e.Rank,
		}
		if err := h.Store.UpsertCollectionOrder(ctx, o); err != nil {
			writeDomainError(w, "Failed to save collection order", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(entries)})
}

// MarkNotFound records that a client could not be reached on a date.
// Unresolved markers surface again on the next day's route.
func (h *Handler) MarkNotFound(w http.ResponseWriter, r *http.Request) {
	date, err := credit.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	clientID := credit.ClientID(chi.URLParam(r, "clientID"))

	if _, err := h.Store.GetClient(r.Context(), clientID); err != nil {
		writeDomainError(w, "Client lookup failed", err)
		return
	}
	if err := h.Store.MarkNotFound(r.Context(), credit.NotFoundMarker{Date: date, ClientID: clientID}); err != nil {
		writeDomainError(w, "Failed to mark client", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"client_id": string(clientID), "date": date.String()})
}

// ClearNotFound removes a not-found marker.
func (h *Handler) ClearNotFound(w http.ResponseWriter, r *http.Request) {
	date, err := credit.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	clientID := credit.ClientID(chi.URLParam(r, "clientID"))
	if err := h.Store.ClearNotFound(r.Context(), date, clientID); err != nil {
		writeDomainError(w, "Failed to clear marker", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseMoney(s string) (credit.Money, error) {
	if s == "" {
		return credit.Money{}, fmt.Errorf("required")
	}
	var m credit.Money
	if err := m.UnmarshalJSON([]byte(strconv.Quote(s))); err != nil {
		return credit.Money{}, err
	}
	return m, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case credit.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case credit.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, credit.ErrDuplicateID):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
