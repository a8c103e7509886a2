package credit_test

import (
	"testing"
	"time"

	"github.com/gesakro/prestamos/credit"
)

func classify(t *testing.T, c *credit.Credit, payments []credit.Payment, fines []credit.Fine,
	finePayments []credit.FinePayment, deferrals []credit.Deferral, today credit.Date) credit.Status {
	t.Helper()
	balances := credit.Allocate(c.Installments, c.InstallmentValue, payments)
	fineBalances := credit.CoverFines(fines, finePayments)
	return credit.ClassifyStatus(c, balances,
		credit.FineOutstandingByInstallment(fineBalances),
		credit.NewDeferralSet(deferrals), today)
}

func TestClassifyStatus_CurrentBeforeFirstDueDate(t *testing.T) {
	// GIVEN: A fresh weekly credit with nothing paid
	// WHEN: Classifying the day after origination
	// THEN: Current - nothing is due yet

	c := weeklyCredit(t)
	status := classify(t, c, nil, nil, nil, nil, date(2025, time.March, 2))

	if status != credit.StatusCurrent {
		t.Errorf("status = %s, want current", status)
	}
}

func TestClassifyStatus_OverdueAfterMissedInstallment(t *testing.T) {
	// GIVEN: First installment due March 8, nothing paid
	// WHEN: Classifying on March 9
	// THEN: Overdue

	c := weeklyCredit(t)
	status := classify(t, c, nil, nil, nil, nil, date(2025, time.March, 9))

	if status != credit.StatusOverdue {
		t.Errorf("status = %s, want overdue", status)
	}
}

func TestClassifyStatus_DueDateItselfIsNotOverdue(t *testing.T) {
	// GIVEN: First installment due March 8, nothing paid
	// WHEN: Classifying on March 8 itself
	// THEN: Still current - overdue starts the day after

	c := weeklyCredit(t)
	status := classify(t, c, nil, nil, nil, nil, date(2025, time.March, 8))

	if status != credit.StatusCurrent {
		t.Errorf("status = %s, want current", status)
	}
}

func TestClassifyStatus_DeferralPushesOverdueOut(t *testing.T) {
	// GIVEN: Installment 1 due March 8, deferred to March 20
	// WHEN: Classifying on March 15
	// THEN: Current - the effective date is what counts

	c := weeklyCredit(t)
	deferrals := []credit.Deferral{
		{CreditID: c.ID, InstallmentNumber: 1, NewDueDate: date(2025, time.March, 20)},
	}
	status := classify(t, c, nil, nil, nil, deferrals, date(2025, time.March, 15))

	if status != credit.StatusCurrent {
		t.Errorf("status = %s, want current", status)
	}

	// Past the deferred date it goes overdue like any other installment.
	status = classify(t, c, nil, nil, nil, deferrals, date(2025, time.March, 21))
	if status != credit.StatusOverdue {
		t.Errorf("status after deferred date = %s, want overdue", status)
	}
}

func TestClassifyStatus_UnpaidFineKeepsInstallmentOverdue(t *testing.T) {
	// GIVEN: Installment 1 paid in full, but an unpaid fine hangs off it
	// WHEN: Classifying past the installment's due date
	// THEN: Overdue until the fine is covered too

	c := weeklyCredit(t)
	payments := []credit.Payment{
		generalPayment("p1", 100000, date(2025, time.March, 8)),
	}
	related := 1
	fines := []credit.Fine{
		{ID: "f1", CreditID: c.ID, Value: money(10000), Date: date(2025, time.March, 8), RelatedInstallment: &related},
	}

	status := classify(t, c, payments, fines, nil, nil, date(2025, time.March, 10))
	if status != credit.StatusOverdue {
		t.Errorf("status with unpaid fine = %s, want overdue", status)
	}

	// Covering the fine clears it.
	finePayments := []credit.FinePayment{
		{ID: "fp1", FineID: "f1", Value: money(10000), Date: date(2025, time.March, 10)},
	}
	status = classify(t, c, payments, fines, finePayments, nil, date(2025, time.March, 10))
	if status != credit.StatusCurrent {
		t.Errorf("status with covered fine = %s, want current", status)
	}
}

func TestClassifyStatus_ClosedWhenAllInstallmentsClear(t *testing.T) {
	// GIVEN: Every installment paid via one big general payment
	// WHEN: Classifying on any date
	// THEN: Closed - even far past every due date

	c := weeklyCredit(t)
	payments := []credit.Payment{
		generalPayment("p1", 1000000, date(2025, time.March, 8)),
	}

	status := classify(t, c, payments, nil, nil, nil, date(2026, time.January, 1))
	if status != credit.StatusClosed {
		t.Errorf("status = %s, want closed", status)
	}
}

func TestClassifyStatus_ReopensOnlyThroughLedgerEdit(t *testing.T) {
	// GIVEN: A closed credit
	// WHEN: The closing payment is removed from the history
	// THEN: The next classification reflects the new ledger - no sticky state

	c := weeklyCredit(t)
	payments := []credit.Payment{
		generalPayment("p1", 1000000, date(2025, time.March, 8)),
	}
	if got := classify(t, c, payments, nil, nil, nil, date(2025, time.June, 1)); got != credit.StatusClosed {
		t.Fatalf("status = %s, want closed", got)
	}

	if got := classify(t, c, nil, nil, nil, nil, date(2025, time.June, 1)); got != credit.StatusOverdue {
		t.Errorf("status after payment delete = %s, want overdue", got)
	}
}

func TestClassifyStatus_ManualSettleCanClose(t *testing.T) {
	// GIVEN: 9 installments paid, the last settled manually
	// WHEN: Classifying
	// THEN: Closed with no money against the final installment

	c := weeklyCredit(t)
	c.Installments[9].PaidManually = true
	payments := []credit.Payment{
		generalPayment("p1", 900000, date(2025, time.March, 8)),
	}

	status := classify(t, c, payments, nil, nil, nil, date(2025, time.June, 1))
	if status != credit.StatusClosed {
		t.Errorf("status = %s, want closed", status)
	}
}

func TestOverdueInstallments_ReportsEarliestEffectiveDate(t *testing.T) {
	// GIVEN: Installments 1 and 2 overdue, installment 1 deferred later than 2
	// WHEN: Collecting overdue installments
	// THEN: Both numbers come back and the earliest is installment 2's date

	c := weeklyCredit(t)
	deferrals := credit.NewDeferralSet([]credit.Deferral{
		{CreditID: c.ID, InstallmentNumber: 1, NewDueDate: date(2025, time.March, 17)},
	})
	balances := credit.Allocate(c.Installments, c.InstallmentValue, nil)

	numbers, earliest := credit.OverdueInstallments(c, balances, deferrals, date(2025, time.March, 20))

	if len(numbers) != 2 || numbers[0] != 1 || numbers[1] != 2 {
		t.Fatalf("numbers = %v, want [1 2]", numbers)
	}
	if earliest == nil || !earliest.Equal(date(2025, time.March, 15)) {
		t.Errorf("earliest = %v, want 2025-03-15", earliest)
	}
}

func TestDeriveLabel_Rules(t *testing.T) {
	cases := []struct {
		name      string
		status    credit.Status
		renewed   bool
		fines     int
		deferrals int
		want      credit.Label
	}{
		{"clean close", credit.StatusClosed, false, 0, 0, credit.LabelExcellent},
		{"two blemishes", credit.StatusClosed, false, 1, 1, credit.LabelGood},
		{"three blemishes", credit.StatusClosed, false, 2, 1, credit.LabelLate},
		{"renewed while owing", credit.StatusOverdue, true, 0, 0, credit.LabelIncomplete},
		{"still running", credit.StatusCurrent, false, 0, 0, credit.LabelNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := credit.DeriveLabel(tc.status, tc.renewed, tc.fines, tc.deferrals)
			if got != tc.want {
				t.Errorf("label = %s, want %s", got, tc.want)
			}
		})
	}
}
