package credit_test

import (
	"testing"
	"time"

	"github.com/gesakro/prestamos/credit"
)

func TestDeferralSet_LastWriteWins(t *testing.T) {
	// GIVEN: Two deferrals for the same installment, written in sequence
	// WHEN: Resolving the effective due date
	// THEN: Only the most recent one counts

	first := credit.Deferral{
		CreditID:          "cr-1",
		InstallmentNumber: 3,
		NewDueDate:        date(2025, time.April, 1),
		CreatedAt:         time.Date(2025, time.March, 20, 10, 0, 0, 0, time.UTC),
	}
	second := credit.Deferral{
		CreditID:          "cr-1",
		InstallmentNumber: 3,
		NewDueDate:        date(2025, time.April, 10),
		CreatedAt:         time.Date(2025, time.March, 21, 10, 0, 0, 0, time.UTC),
	}

	// Insertion order must not matter.
	set := credit.NewDeferralSet([]credit.Deferral{second, first})

	scheduled := date(2025, time.March, 22)
	if got := set.EffectiveDueDate("cr-1", 3, scheduled); !got.Equal(date(2025, time.April, 10)) {
		t.Errorf("effective due date = %s, want 2025-04-10", got)
	}
	if set.Len() != 1 {
		t.Errorf("set length = %d, want 1", set.Len())
	}
}

func TestDeferralSet_ScheduledDatePassesThroughUntouched(t *testing.T) {
	// GIVEN: A deferral on installment 2 only
	// WHEN: Resolving other installments
	// THEN: Their scheduled dates come back unchanged

	set := credit.NewDeferralSet([]credit.Deferral{
		{CreditID: "cr-1", InstallmentNumber: 2, NewDueDate: date(2025, time.May, 1)},
	})

	scheduled := date(2025, time.March, 15)
	if got := set.EffectiveDueDate("cr-1", 1, scheduled); !got.Equal(scheduled) {
		t.Errorf("undeferred installment = %s, want %s", got, scheduled)
	}
	// Same installment number on a different credit is untouched too.
	if got := set.EffectiveDueDate("cr-2", 2, scheduled); !got.Equal(scheduled) {
		t.Errorf("other credit = %s, want %s", got, scheduled)
	}
}

func TestDeferralSet_NilIsSafe(t *testing.T) {
	// A nil set behaves as empty; aggregations never nil-check.
	var set *credit.DeferralSet

	scheduled := date(2025, time.March, 15)
	if got := set.EffectiveDueDate("cr-1", 1, scheduled); !got.Equal(scheduled) {
		t.Errorf("nil set effective date = %s, want %s", got, scheduled)
	}
	if set.Len() != 0 {
		t.Errorf("nil set length = %d, want 0", set.Len())
	}
	if _, ok := set.Get("cr-1", 1); ok {
		t.Error("nil set Get returned ok")
	}
}

func TestDeferralSet_OverlayNeverMutatesSchedule(t *testing.T) {
	// GIVEN: A credit with a deferral overlay
	// WHEN: Resolving effective dates
	// THEN: The underlying installment rows keep their scheduled dates

	c := weeklyCredit(t)
	original := c.Installments[0].ScheduledDate
	set := credit.NewDeferralSet([]credit.Deferral{
		{CreditID: c.ID, InstallmentNumber: 1, NewDueDate: date(2025, time.June, 1)},
	})

	_ = set.EffectiveDueDate(c.ID, 1, c.Installments[0].ScheduledDate)

	if !c.Installments[0].ScheduledDate.Equal(original) {
		t.Error("scheduled date mutated by overlay resolution")
	}
}
