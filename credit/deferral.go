/*
deferral.go - Effective due-date resolution

PURPOSE:
  A prórroga moves an installment's effective due date without touching the
  immutable schedule. DeferralSet is the read-side overlay: a keyed map where
  the last write for a (credit, installment) key wins. Deferrals are operator
  overrides, not financial truth, so last-write-wins is the whole conflict
  story - there are no merge semantics.
*/
package credit

// DeferralKey identifies one installment's override slot.
type DeferralKey struct {
	CreditID          CreditID
	InstallmentNumber int
}

// DeferralSet is an immutable snapshot of deferral overrides.
type DeferralSet struct {
	m map[DeferralKey]Deferral
}

// NewDeferralSet builds a snapshot from records in write order: a later
// record for the same key replaces the earlier one.
func NewDeferralSet(deferrals []Deferral) *DeferralSet {
	m := make(map[DeferralKey]Deferral, len(deferrals))
	for _, d := range deferrals {
		key := DeferralKey{CreditID: d.CreditID, InstallmentNumber: d.InstallmentNumber}
		if existing, ok := m[key]; ok && existing.CreatedAt.After(d.CreatedAt) {
			continue
		}
		m[key] = d
	}
	return &DeferralSet{m: m}
}

// EffectiveDueDate returns the deferral override for the installment if one
// exists, else the scheduled date. Pure lookup: the installment record is
// never mutated.
func (s *DeferralSet) EffectiveDueDate(creditID CreditID, installmentNumber int, scheduled Date) Date {
	if s == nil {
		return scheduled
	}
	if d, ok := s.m[DeferralKey{CreditID: creditID, InstallmentNumber: installmentNumber}]; ok {
		return d.NewDueDate
	}
	return scheduled
}

// Get returns the active override for a key, if any.
func (s *DeferralSet) Get(creditID CreditID, installmentNumber int) (Deferral, bool) {
	if s == nil {
		return Deferral{}, false
	}
	d, ok := s.m[DeferralKey{CreditID: creditID, InstallmentNumber: installmentNumber}]
	return d, ok
}

// Len returns the number of active overrides.
func (s *DeferralSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.m)
}
