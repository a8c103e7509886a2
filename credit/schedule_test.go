package credit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/gesakro/prestamos/credit"
)

func TestBuildSchedule_DailyCadence(t *testing.T) {
	// GIVEN: A daily credit started March 1
	// WHEN: Building the schedule
	// THEN: 60 installments, one per consecutive day starting March 2

	schedule := credit.BuildSchedule(date(2025, time.March, 1), credit.CadenceDaily)

	if len(schedule) != 60 {
		t.Fatalf("schedule length = %d, want 60", len(schedule))
	}
	if got := schedule[0].ScheduledDate; !got.Equal(date(2025, time.March, 2)) {
		t.Errorf("first installment = %s, want 2025-03-02", got)
	}
	if got := schedule[59].ScheduledDate; !got.Equal(date(2025, time.April, 30)) {
		t.Errorf("last installment = %s, want 2025-04-30", got)
	}
	for i := 1; i < len(schedule); i++ {
		if credit.DaysBetween(schedule[i-1].ScheduledDate, schedule[i].ScheduledDate) != 1 {
			t.Fatalf("gap between installments %d and %d is not one day", i, i+1)
		}
	}
}

func TestBuildSchedule_CadenceSteps(t *testing.T) {
	start := date(2025, time.January, 15)

	cases := []struct {
		cadence credit.Cadence
		count   int
		second  credit.Date
	}{
		{credit.CadenceWeekly, 10, date(2025, time.January, 29)},
		{credit.CadenceBiweekly, 5, date(2025, time.February, 14)},
		{credit.CadenceMonthly, 3, date(2025, time.March, 15)},
	}

	for _, tc := range cases {
		schedule := credit.BuildSchedule(start, tc.cadence)
		if len(schedule) != tc.count {
			t.Errorf("%s: length = %d, want %d", tc.cadence, len(schedule), tc.count)
			continue
		}
		if got := schedule[1].ScheduledDate; !got.Equal(tc.second) {
			t.Errorf("%s: second installment = %s, want %s", tc.cadence, got, tc.second)
		}
	}
}

func TestBuildSchedule_MonthlyEndOfMonth(t *testing.T) {
	// GIVEN: A monthly credit started January 31
	// WHEN: Building the schedule
	// THEN: Dates normalize through short months the way time.AddDate does

	schedule := credit.BuildSchedule(date(2025, time.January, 31), credit.CadenceMonthly)

	// Jan 31 + 1 month normalizes to March 3 (2025 is not a leap year).
	if got := schedule[0].ScheduledDate; !got.Equal(date(2025, time.March, 3)) {
		t.Errorf("first installment = %s, want 2025-03-03", got)
	}
}

func TestNewCredit_AtomicOrigination(t *testing.T) {
	// GIVEN: Valid origination input
	// WHEN: Creating the credit
	// THEN: Credit and full schedule come back together, numbered from 1

	c, err := credit.NewCredit("cr-1", "cl-1", money(300000), money(30000),
		credit.CadenceWeekly, date(2025, time.March, 1))
	if err != nil {
		t.Fatalf("NewCredit: %v", err)
	}

	if c.InstallmentCount != 10 || len(c.Installments) != 10 {
		t.Fatalf("count = %d, installments = %d, want 10/10", c.InstallmentCount, len(c.Installments))
	}
	if err := credit.ValidateSchedule(c); err != nil {
		t.Errorf("ValidateSchedule on fresh credit: %v", err)
	}
}

func TestNewCredit_RejectsBadInput(t *testing.T) {
	start := date(2025, time.March, 1)

	cases := []struct {
		name string
		fn   func() (*credit.Credit, error)
	}{
		{"empty id", func() (*credit.Credit, error) {
			return credit.NewCredit("", "cl-1", money(100), money(10), credit.CadenceDaily, start)
		}},
		{"unknown cadence", func() (*credit.Credit, error) {
			return credit.NewCredit("cr-1", "cl-1", money(100), money(10), "hourly", start)
		}},
		{"zero principal", func() (*credit.Credit, error) {
			return credit.NewCredit("cr-1", "cl-1", money(0), money(10), credit.CadenceDaily, start)
		}},
		{"negative installment value", func() (*credit.Credit, error) {
			return credit.NewCredit("cr-1", "cl-1", money(100), money(-10), credit.CadenceDaily, start)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.fn(); !errors.Is(err, credit.ErrValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
}

func TestValidateSchedule_DetectsGaps(t *testing.T) {
	// GIVEN: A credit whose schedule skips a number
	// WHEN: Validating
	// THEN: Rejected before any aggregation trusts it

	c, err := credit.NewCredit("cr-1", "cl-1", money(300000), money(30000),
		credit.CadenceWeekly, date(2025, time.March, 1))
	if err != nil {
		t.Fatalf("NewCredit: %v", err)
	}
	c.Installments[4].Number = 99

	if err := credit.ValidateSchedule(c); !errors.Is(err, credit.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}
