// Package store provides an in-memory credit.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/gesakro/prestamos/credit"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	clients      map[credit.ClientID]credit.Client
	credits      map[credit.CreditID]*credit.Credit
	payments     map[credit.PaymentID]credit.Payment
	fines        map[credit.FineID]credit.Fine
	finePayments map[credit.FinePaymentID]credit.FinePayment
	discounts    map[credit.DiscountID]credit.Discount

	deferrals map[credit.DeferralKey]credit.Deferral
	orders    map[dayClientKey]credit.CollectionOrder
	notFound  map[dayClientKey]credit.NotFoundMarker
}

type dayClientKey struct {
	Date     string
	ClientID credit.ClientID
}

func NewMemory() *Memory {
	return &Memory{
		clients:      make(map[credit.ClientID]credit.Client),
		credits:      make(map[credit.CreditID]*credit.Credit),
		payments:     make(map[credit.PaymentID]credit.Payment),
		fines:        make(map[credit.FineID]credit.Fine),
		finePayments: make(map[credit.FinePaymentID]credit.FinePayment),
		discounts:    make(map[credit.DiscountID]credit.Discount),
		deferrals:    make(map[credit.DeferralKey]credit.Deferral),
		orders:       make(map[dayClientKey]credit.CollectionOrder),
		notFound:     make(map[dayClientKey]credit.NotFoundMarker),
	}
}

// =============================================================================
// CREDIT STORE
// =============================================================================

func (m *Memory) SaveClient(_ context.Context, c credit.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id credit.ClientID) (*credit.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, credit.ErrClientNotFound
	}
	return &c, nil
}

func (m *Memory) ListClients(_ context.Context) ([]credit.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]credit.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveCredit(_ context.Context, c *credit.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credits[c.ID]; ok {
		return credit.ErrDuplicateID
	}
	m.credits[c.ID] = copyCredit(c)
	return nil
}

func (m *Memory) GetCredit(_ context.Context, id credit.CreditID) (*credit.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credits[id]
	if !ok {
		return nil, credit.ErrCreditNotFound
	}
	return copyCredit(c), nil
}

func (m *Memory) ListCredits(_ context.Context) ([]*credit.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*credit.Credit, 0, len(m.credits))
	for _, c := range m.credits {
		out = append(out, copyCredit(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetRenewed(_ context.Context, id credit.CreditID, renewed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[id]
	if !ok {
		return credit.ErrCreditNotFound
	}
	c.Renewed = renewed
	return nil
}

func (m *Memory) SetLabel(_ context.Context, id credit.CreditID, label credit.Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[id]
	if !ok {
		return credit.ErrCreditNotFound
	}
	c.Label = label
	return nil
}

func (m *Memory) SetInstallmentSettled(_ context.Context, id credit.CreditID, number int, settled bool, paidDate *credit.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[id]
	if !ok {
		return credit.ErrCreditNotFound
	}
	if number < 1 || number > len(c.Installments) {
		return credit.ErrInstallmentOutOfRange
	}
	inst := &c.Installments[number-1]
	inst.PaidManually = settled
	if settled {
		inst.PaidDate = paidDate
	} else {
		inst.PaidDate = nil
	}
	return nil
}

// copyCredit guards snapshot semantics: callers must never observe later
// mutations through a previously returned credit.
func copyCredit(c *credit.Credit) *credit.Credit {
	dup := *c
	dup.Installments = make([]credit.Installment, len(c.Installments))
	copy(dup.Installments, c.Installments)
	for i := range dup.Installments {
		if pd := dup.Installments[i].PaidDate; pd != nil {
			d := *pd
			dup.Installments[i].PaidDate = &d
		}
	}
	return &dup
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) AppendPayment(_ context.Context, p credit.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.ID]; exists {
		return credit.ErrDuplicateID
	}
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) UpdatePayment(_ context.Context, p credit.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.ID]; !exists {
		return credit.ErrPaymentNotFound
	}
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) DeletePayment(_ context.Context, id credit.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[id]; !exists {
		return credit.ErrPaymentNotFound
	}
	delete(m.payments, id)
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id credit.PaymentID) (*credit.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, credit.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *Memory) PaymentsByCredit(_ context.Context, id credit.CreditID) ([]credit.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.Payment
	for _, p := range m.payments {
		if p.CreditID == id {
			out = append(out, p)
		}
	}
	sortPayments(out)
	return out, nil
}

func sortPayments(ps []credit.Payment) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].Date.Equal(ps[j].Date) {
			return ps[i].Date.Before(ps[j].Date)
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

func (m *Memory) AppendFine(_ context.Context, f credit.Fine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.fines[f.ID]; exists {
		return credit.ErrDuplicateID
	}
	m.fines[f.ID] = f
	return nil
}

func (m *Memory) UpdateFine(_ context.Context, f credit.Fine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.fines[f.ID]; !exists {
		return credit.ErrFineNotFound
	}
	m.fines[f.ID] = f
	return nil
}

func (m *Memory) DeleteFine(_ context.Context, id credit.FineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.fines[id]; !exists {
		return credit.ErrFineNotFound
	}
	delete(m.fines, id)
	// Orphaned fine payments are dropped with their fine.
	for fpID, fp := range m.finePayments {
		if fp.FineID == id {
			delete(m.finePayments, fpID)
		}
	}
	return nil
}

func (m *Memory) GetFine(_ context.Context, id credit.FineID) (*credit.Fine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fines[id]
	if !ok {
		return nil, credit.ErrFineNotFound
	}
	return &f, nil
}

func (m *Memory) FinesByCredit(_ context.Context, id credit.CreditID) ([]credit.Fine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.Fine
	for _, f := range m.fines {
		if f.CreditID == id {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) AppendFinePayment(_ context.Context, fp credit.FinePayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.finePayments[fp.ID]; exists {
		return credit.ErrDuplicateID
	}
	if _, exists := m.fines[fp.FineID]; !exists {
		return credit.ErrFineNotFound
	}
	m.finePayments[fp.ID] = fp
	return nil
}

func (m *Memory) FinePaymentsByFine(_ context.Context, id credit.FineID) ([]credit.FinePayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.FinePayment
	for _, fp := range m.finePayments {
		if fp.FineID == id {
			out = append(out, fp)
		}
	}
	sortFinePayments(out)
	return out, nil
}

func (m *Memory) FinePaymentsByCredit(_ context.Context, id credit.CreditID) ([]credit.FinePayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCredit := make(map[credit.FineID]bool)
	for _, f := range m.fines {
		if f.CreditID == id {
			byCredit[f.ID] = true
		}
	}
	var out []credit.FinePayment
	for _, fp := range m.finePayments {
		if byCredit[fp.FineID] {
			out = append(out, fp)
		}
	}
	sortFinePayments(out)
	return out, nil
}

func sortFinePayments(fps []credit.FinePayment) {
	sort.SliceStable(fps, func(i, j int) bool {
		if !fps[i].Date.Equal(fps[j].Date) {
			return fps[i].Date.Before(fps[j].Date)
		}
		return fps[i].CreatedAt.Before(fps[j].CreatedAt)
	})
}

func (m *Memory) AppendDiscount(_ context.Context, d credit.Discount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.discounts[d.ID]; exists {
		return credit.ErrDuplicateID
	}
	m.discounts[d.ID] = d
	return nil
}

func (m *Memory) DiscountsByCredit(_ context.Context, id credit.CreditID) ([]credit.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.Discount
	for _, d := range m.discounts {
		if d.CreditID == id {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// OVERLAY STORE
// =============================================================================

func (m *Memory) UpsertDeferral(_ context.Context, d credit.Deferral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := credit.DeferralKey{CreditID: d.CreditID, InstallmentNumber: d.InstallmentNumber}
	m.deferrals[key] = d
	return nil
}

func (m *Memory) DeleteDeferral(_ context.Context, id credit.CreditID, installmentNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deferrals, credit.DeferralKey{CreditID: id, InstallmentNumber: installmentNumber})
	return nil
}

func (m *Memory) DeferralsByCredit(_ context.Context, id credit.CreditID) ([]credit.Deferral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.Deferral
	for _, d := range m.deferrals {
		if d.CreditID == id {
			out = append(out, d)
		}
	}
	sortDeferrals(out)
	return out, nil
}

func (m *Memory) ListDeferrals(_ context.Context) ([]credit.Deferral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]credit.Deferral, 0, len(m.deferrals))
	for _, d := range m.deferrals {
		out = append(out, d)
	}
	sortDeferrals(out)
	return out, nil
}

func sortDeferrals(ds []credit.Deferral) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].CreditID != ds[j].CreditID {
			return ds[i].CreditID < ds[j].CreditID
		}
		return ds[i].InstallmentNumber < ds[j].InstallmentNumber
	})
}

func (m *Memory) UpsertCollectionOrder(_ context.Context, o credit.CollectionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[dayClientKey{Date: o.Date.String(), ClientID: o.ClientID}] = o
	return nil
}

func (m *Memory) DeleteCollectionOrder(_ context.Context, date credit.Date, clientID credit.ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, dayClientKey{Date: date.String(), ClientID: clientID})
	return nil
}

func (m *Memory) CollectionOrderForDate(_ context.Context, date credit.Date) ([]credit.CollectionOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.CollectionOrder
	for _, o := range m.orders {
		if o.Date.Equal(date) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (m *Memory) MarkNotFound(_ context.Context, marker credit.NotFoundMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notFound[dayClientKey{Date: marker.Date.String(), ClientID: marker.ClientID}] = marker
	return nil
}

func (m *Memory) ClearNotFound(_ context.Context, date credit.Date, clientID credit.ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notFound, dayClientKey{Date: date.String(), ClientID: clientID})
	return nil
}

func (m *Memory) NotFoundForDate(_ context.Context, date credit.Date) ([]credit.NotFoundMarker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.NotFoundMarker
	for _, marker := range m.notFound {
		if marker.Date.Equal(date) {
			out = append(out, marker)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (m *Memory) LatestNotFoundBefore(_ context.Context, date credit.Date) ([]credit.NotFoundMarker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[credit.ClientID]credit.NotFoundMarker)
	for _, marker := range m.notFound {
		if !marker.Date.Before(date) {
			continue
		}
		if prev, ok := latest[marker.ClientID]; ok && prev.Date.After(marker.Date) {
			continue
		}
		latest[marker.ClientID] = marker
	}
	out := make([]credit.NotFoundMarker, 0, len(latest))
	for _, marker := range latest {
		out = append(out, marker)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}
