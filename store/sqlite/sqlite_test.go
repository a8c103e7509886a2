package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gesakro/prestamos/credit"
	"github.com/gesakro/prestamos/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func d(y int, m time.Month, day int) credit.Date {
	return credit.NewDate(y, m, day)
}

func seed(t *testing.T, st *sqlite.Store) *credit.Credit {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveClient(ctx, credit.Client{
		ID: "cl-1", Name: "Ana", Document: "123", Portfolio: "north",
	}))
	c, err := credit.NewCredit("cr-1", "cl-1",
		credit.NewMoney(300000), credit.NewMoney(30000), credit.CadenceWeekly, d(2025, time.March, 1))
	require.NoError(t, err)
	require.NoError(t, st.SaveCredit(ctx, c))
	return c
}

func TestStore_CreditRoundTrip(t *testing.T) {
	// GIVEN: A saved credit
	// WHEN: Reading it back
	// THEN: Fields and the full installment schedule survive intact

	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	got, err := st.GetCredit(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.ClientID, got.ClientID)
	assert.True(t, got.Principal.Equal(credit.NewMoney(300000)))
	assert.Equal(t, credit.CadenceWeekly, got.Cadence)
	require.Len(t, got.Installments, 10)
	assert.True(t, got.Installments[0].ScheduledDate.Equal(d(2025, time.March, 8)))
	assert.NoError(t, credit.ValidateSchedule(got))
}

func TestStore_DuplicateCreditID(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	err := st.SaveCredit(ctx, c)
	assert.ErrorIs(t, err, credit.ErrDuplicateID)
}

func TestStore_MissingRowsMapToNotFound(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.GetCredit(ctx, "nope")
	assert.ErrorIs(t, err, credit.ErrCreditNotFound)

	_, err = st.GetClient(ctx, "nope")
	assert.ErrorIs(t, err, credit.ErrClientNotFound)

	_, err = st.GetPayment(ctx, "nope")
	assert.ErrorIs(t, err, credit.ErrPaymentNotFound)
}

func TestStore_PaymentLifecycle(t *testing.T) {
	// Append, read back in date order, update, delete.
	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	target := 2
	p1 := credit.Payment{
		ID: "p1", CreditID: c.ID, Value: credit.NewMoney(30000),
		Date: d(2025, time.March, 10), CreatedAt: time.Now().UTC(),
	}
	p2 := credit.Payment{
		ID: "p2", CreditID: c.ID, Value: credit.NewMoney(15000),
		Date: d(2025, time.March, 8), Description: "partial",
		TargetInstallment: &target, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.AppendPayment(ctx, p1))
	require.NoError(t, st.AppendPayment(ctx, p2))

	payments, err := st.PaymentsByCredit(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, credit.PaymentID("p2"), payments[0].ID, "date order, earliest first")
	require.NotNil(t, payments[0].TargetInstallment)
	assert.Equal(t, 2, *payments[0].TargetInstallment)

	p1.Value = credit.NewMoney(45000)
	require.NoError(t, st.UpdatePayment(ctx, p1))
	got, err := st.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(credit.NewMoney(45000)))

	require.NoError(t, st.DeletePayment(ctx, "p1"))
	payments, err = st.PaymentsByCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestStore_DeleteFineCascadesItsPayments(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	f := credit.Fine{
		ID: "f1", CreditID: c.ID, Value: credit.NewMoney(10000),
		Date: d(2025, time.March, 10), Motive: "late", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.AppendFine(ctx, f))
	require.NoError(t, st.AppendFinePayment(ctx, credit.FinePayment{
		ID: "fp1", FineID: f.ID, Value: credit.NewMoney(5000),
		Date: d(2025, time.March, 11), CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, st.DeleteFine(ctx, f.ID))

	fps, err := st.FinePaymentsByCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, fps)
}

func TestStore_SetInstallmentSettled(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	paid := d(2025, time.April, 1)
	require.NoError(t, st.SetInstallmentSettled(ctx, c.ID, 3, true, &paid))

	got, err := st.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Installments[2].PaidManually)
	require.NotNil(t, got.Installments[2].PaidDate)
	assert.True(t, got.Installments[2].PaidDate.Equal(paid))

	// Unsettling clears both flag and date.
	require.NoError(t, st.SetInstallmentSettled(ctx, c.ID, 3, false, nil))
	got, err = st.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.Installments[2].PaidManually)
	assert.Nil(t, got.Installments[2].PaidDate)
}

func TestStore_DeferralUpsertIsLastWriteWins(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	require.NoError(t, st.UpsertDeferral(ctx, credit.Deferral{
		CreditID: c.ID, InstallmentNumber: 1,
		NewDueDate: d(2025, time.April, 1), Reason: "first",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.UpsertDeferral(ctx, credit.Deferral{
		CreditID: c.ID, InstallmentNumber: 1,
		NewDueDate: d(2025, time.April, 10), Reason: "second",
		CreatedAt: time.Now().UTC(),
	}))

	defs, err := st.DeferralsByCredit(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.True(t, defs[0].NewDueDate.Equal(d(2025, time.April, 10)))
	assert.Equal(t, "second", defs[0].Reason)

	require.NoError(t, st.DeleteDeferral(ctx, c.ID, 1))
	defs, err = st.DeferralsByCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestStore_CollectionOrderAndMarkers(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	seed(t, st)

	day := d(2025, time.March, 10)
	require.NoError(t, st.UpsertCollectionOrder(ctx, credit.CollectionOrder{
		Date: day, ClientID: "cl-1", Rank: 3,
	}))
	orders, err := st.CollectionOrderForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 3, orders[0].Rank)

	// Marking twice is idempotent.
	marker := credit.NotFoundMarker{Date: day, ClientID: "cl-1"}
	require.NoError(t, st.MarkNotFound(ctx, marker))
	require.NoError(t, st.MarkNotFound(ctx, marker))
	markers, err := st.NotFoundForDate(ctx, day)
	require.NoError(t, err)
	assert.Len(t, markers, 1)

	require.NoError(t, st.ClearNotFound(ctx, day, "cl-1"))
	markers, err = st.NotFoundForDate(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestStore_LatestNotFoundBefore(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	seed(t, st)

	day := d(2025, time.March, 10)
	// cl-1 marked twice over the week; only the later marker carries.
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: day.AddDays(-5), ClientID: "cl-1"}))
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: day.AddDays(-2), ClientID: "cl-1"}))
	// A marker on the day itself belongs to that day's queue, not the carry.
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: day, ClientID: "cl-2"}))
	// A cleared marker stops carrying.
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: day.AddDays(-3), ClientID: "cl-3"}))
	require.NoError(t, st.ClearNotFound(ctx, day.AddDays(-3), "cl-3"))

	markers, err := st.LatestNotFoundBefore(ctx, day)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, credit.ClientID("cl-1"), markers[0].ClientID)
	assert.True(t, markers[0].Date.Equal(day.AddDays(-2)))
}

func TestStore_SetRenewedAndLabel(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	require.NoError(t, st.SetRenewed(ctx, c.ID, true))
	require.NoError(t, st.SetLabel(ctx, c.ID, credit.LabelGood))

	got, err := st.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Renewed)
	assert.Equal(t, credit.LabelGood, got.Label)
}

func TestStore_MoneySurvivesAsExactDecimal(t *testing.T) {
	// Money is stored as text; 0.1-style values must not drift.
	st := newStore(t)
	ctx := context.Background()
	c := seed(t, st)

	p := credit.Payment{
		ID: "p1", CreditID: c.ID, Value: credit.MustParseMoney("10000.10"),
		Date: d(2025, time.March, 8), CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.AppendPayment(ctx, p))

	got, err := st.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(credit.MustParseMoney("10000.10")))
}
