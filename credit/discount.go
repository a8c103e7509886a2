/*
discount.go - Discount application

PURPOSE:
  Applies a discount to a credit at append time. Discounts come in two
  kinds and each reduces what the client still owes through a different
  mechanism:

  - days:   the last N unsettled installments are marked paid manually.
            They leave the allocation pool entirely, so the credit can
            close early without any money crossing the ledger.
  - amount: a general (untargeted) payment for the discount value is
            appended to the ledger. It sweeps installments like any
            other payment, so recompute-on-read stays uniform.

  The discount row itself is always recorded for audit, independent of
  the mechanism used.

SEE ALSO:
  - allocation.go: how manual installments and general payments behave
  - store.go: LedgerStore.AppendDiscount / AppendPayment
*/
package credit

import (
	"context"
	"fmt"
)

// ApplyDiscount records the discount and applies its effect to the credit.
// The ledger rows written here are ordinary rows; nothing downstream
// needs to know a discount produced them.
func ApplyDiscount(ctx context.Context, st Store, c *Credit, d Discount, appliedOn Date) error {
	if err := ValidateDiscount(c, d); err != nil {
		return err
	}

	switch d.Kind {
	case DiscountDays:
		if err := settleTrailing(ctx, st, c, d.Days, appliedOn); err != nil {
			return err
		}
	case DiscountAmount:
		p := Payment{
			ID:          PaymentID(fmt.Sprintf("disc-%s", d.ID)),
			CreditID:    c.ID,
			Value:       d.Value,
			Date:        appliedOn,
			Description: discountDescription(d),
			CreatedAt:   d.CreatedAt,
		}
		if err := st.AppendPayment(ctx, p); err != nil {
			return err
		}
	}

	return st.AppendDiscount(ctx, d)
}

// settleTrailing marks the last n not-yet-settled installments as paid
// manually, walking from the tail of the schedule.
func settleTrailing(ctx context.Context, st Store, c *Credit, n int, appliedOn Date) error {
	remaining := n
	for i := len(c.Installments) - 1; i >= 0 && remaining > 0; i-- {
		inst := c.Installments[i]
		if inst.PaidManually {
			continue
		}
		paidDate := appliedOn
		if err := st.SetInstallmentSettled(ctx, c.ID, inst.Number, true, &paidDate); err != nil {
			return err
		}
		remaining--
	}
	if remaining > 0 {
		return &ValidationError{Field: "discount.days", Reason: "fewer unsettled installments than discount days"}
	}
	return nil
}

func discountDescription(d Discount) string {
	if d.Description != "" {
		return d.Description
	}
	return "discount"
}
