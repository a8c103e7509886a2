/*
validate.go - Ledger ingestion validation

PURPOSE:
  Malformed records are rejected here, before they reach the allocation
  engine. The engine itself assumes validated input: it never coerces a
  negative payment or guesses at a half-filled record.
*/
package credit

// ValidatePayment checks a payment before it is appended to a credit's
// ledger. A payment targets at most one of {installment, fine}; an
// installment target must exist in the credit's schedule at write time.
func ValidatePayment(c *Credit, p Payment) error {
	if p.ID == "" {
		return &ValidationError{Field: "payment.id", Reason: "required"}
	}
	if p.CreditID != c.ID {
		return &ValidationError{Field: "payment.creditId", Reason: "does not match credit"}
	}
	if !p.Value.IsPositive() {
		return &ValidationError{Field: "payment.value", Reason: "must be positive"}
	}
	if p.Date.IsZero() {
		return &ValidationError{Field: "payment.date", Reason: "required"}
	}
	if p.TargetInstallment != nil && p.TargetFineID != nil {
		return &ValidationError{Field: "payment.target", Reason: "cannot target both an installment and a fine"}
	}
	if p.TargetInstallment != nil {
		n := *p.TargetInstallment
		if n < 1 || n > c.InstallmentCount {
			return ErrInstallmentOutOfRange
		}
	}
	return nil
}

// ValidateFine checks a fine before append. The installment link is an
// explicit field; free-text motives are never parsed for it.
func ValidateFine(c *Credit, f Fine) error {
	if f.ID == "" {
		return &ValidationError{Field: "fine.id", Reason: "required"}
	}
	if f.CreditID != c.ID {
		return &ValidationError{Field: "fine.creditId", Reason: "does not match credit"}
	}
	if !f.Value.IsPositive() {
		return &ValidationError{Field: "fine.value", Reason: "must be positive"}
	}
	if f.Date.IsZero() {
		return &ValidationError{Field: "fine.date", Reason: "required"}
	}
	if f.RelatedInstallment != nil {
		n := *f.RelatedInstallment
		if n < 1 || n > c.InstallmentCount {
			return ErrInstallmentOutOfRange
		}
	}
	return nil
}

// ValidateFinePayment checks a fine payment against its fine.
func ValidateFinePayment(f *Fine, fp FinePayment) error {
	if fp.ID == "" {
		return &ValidationError{Field: "finePayment.id", Reason: "required"}
	}
	if fp.FineID != f.ID {
		return &ValidationError{Field: "finePayment.fineId", Reason: "does not match fine"}
	}
	if !fp.Value.IsPositive() {
		return &ValidationError{Field: "finePayment.value", Reason: "must be positive"}
	}
	if fp.Date.IsZero() {
		return &ValidationError{Field: "finePayment.date", Reason: "required"}
	}
	return nil
}

// ValidateDiscount checks a discount before its one-time application.
func ValidateDiscount(c *Credit, d Discount) error {
	if d.ID == "" {
		return &ValidationError{Field: "discount.id", Reason: "required"}
	}
	if d.CreditID != c.ID {
		return &ValidationError{Field: "discount.creditId", Reason: "does not match credit"}
	}
	switch d.Kind {
	case DiscountAmount:
		if !d.Value.IsPositive() {
			return &ValidationError{Field: "discount.value", Reason: "must be positive"}
		}
	case DiscountDays:
		if d.Days < 1 || d.Days >= c.InstallmentCount {
			return &ValidationError{Field: "discount.days", Reason: "must be between 1 and the installment count"}
		}
	default:
		return &ValidationError{Field: "discount.kind", Reason: "must be days or amount"}
	}
	return nil
}

// ValidateDeferral checks a deferral override before upsert.
func ValidateDeferral(c *Credit, d Deferral) error {
	if d.CreditID != c.ID {
		return &ValidationError{Field: "deferral.creditId", Reason: "does not match credit"}
	}
	if d.InstallmentNumber < 1 || d.InstallmentNumber > c.InstallmentCount {
		return ErrInstallmentOutOfRange
	}
	if d.NewDueDate.IsZero() {
		return &ValidationError{Field: "deferral.newDueDate", Reason: "required"}
	}
	return nil
}
