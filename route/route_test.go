package route_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gesakro/prestamos/credit"
	"github.com/gesakro/prestamos/credit/store"
	"github.com/gesakro/prestamos/route"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(y int, m time.Month, day int) credit.Date {
	return credit.NewDate(y, m, day)
}

func m(v int64) credit.Money {
	return credit.NewMoney(v)
}

type fixture struct {
	snap route.Snapshot
}

func newFixture() *fixture {
	return &fixture{snap: route.Snapshot{
		Clients:      make(map[credit.ClientID]credit.Client),
		Payments:     make(map[credit.CreditID][]credit.Payment),
		Fines:        make(map[credit.CreditID][]credit.Fine),
		FinePayments: make(map[credit.CreditID][]credit.FinePayment),
	}}
}

func (f *fixture) client(id, name, portfolio string) {
	f.snap.Clients[credit.ClientID(id)] = credit.Client{
		ID: credit.ClientID(id), Name: name, Portfolio: portfolio,
	}
}

// dailyCredit originates a 60-day credit of 10000/day starting the given date.
func (f *fixture) dailyCredit(t *testing.T, id, clientID string, start credit.Date) *credit.Credit {
	t.Helper()
	c, err := credit.NewCredit(credit.CreditID(id), credit.ClientID(clientID),
		m(600000), m(10000), credit.CadenceDaily, start)
	require.NoError(t, err)
	f.snap.Credits = append(f.snap.Credits, c)
	return c
}

func (f *fixture) pay(creditID string, value int64, date credit.Date) {
	id := credit.CreditID(creditID)
	f.snap.Payments[id] = append(f.snap.Payments[id], credit.Payment{
		ID:        credit.PaymentID(creditID + "-p"),
		CreditID:  id,
		Value:     m(value),
		Date:      date,
		CreatedAt: time.Now().UTC(),
	})
}

func (f *fixture) build(t *testing.T, target, today credit.Date) *route.RouteReport {
	t.Helper()
	report, err := route.BuildRoute(route.RouteInput{
		TargetDate: target,
		Today:      today,
		Snapshot:   f.snap,
	})
	require.NoError(t, err)
	return report
}

func allLines(r *route.RouteReport) []route.Line {
	var lines []route.Line
	for _, b := range r.Buckets {
		lines = append(lines, b.Lines...)
	}
	return lines
}

func lineFor(r *route.RouteReport, creditID string) (route.Line, bool) {
	for _, l := range allLines(r) {
		if l.CreditID == credit.CreditID(creditID) {
			return l, true
		}
	}
	return route.Line{}, false
}

// =============================================================================
// THE TWO-DAY OVERDUE WINDOW
// =============================================================================

func TestBuildRoute_OverdueSurfacesOnTodayAndTomorrowOnly(t *testing.T) {
	// GIVEN: A daily credit 5 days behind, real today = March 20
	// WHEN: Viewing today, tomorrow, and three days out
	// THEN: The arrears appear on today and tomorrow, but the March 23 view
	//       shows only March 23's own installment

	today := d(2025, time.March, 20)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1)) // installments from March 2

	// Nothing paid: installments due March 2..20 are all outstanding on the
	// 20th; viewing today also sweeps them in. 19 installments x 10000.
	todayView := f.build(t, today, today)
	line, ok := lineFor(todayView, "cr-1")
	require.True(t, ok)
	assert.Equal(t, route.LinePending, line.State)
	assert.Equal(t, "190000", line.AmountDue.String())

	// Tomorrow's view carries the arrears plus tomorrow's own installment.
	// Today's installment is not overdue yet, so it stays out: 18 overdue
	// plus March 21's own.
	tomorrowView := f.build(t, today.AddDays(1), today)
	line, ok = lineFor(tomorrowView, "cr-1")
	require.True(t, ok)
	assert.Equal(t, "190000", line.AmountDue.String())

	// Three days out the window closes: exact match only.
	farView := f.build(t, today.AddDays(3), today)
	line, ok = lineFor(farView, "cr-1")
	require.True(t, ok)
	assert.Equal(t, "10000", line.AmountDue.String())
}

func TestBuildRoute_PastDateReplaysExactMatchesOnly(t *testing.T) {
	// GIVEN: The same overdue credit
	// WHEN: Viewing a past date
	// THEN: Only that date's installment shows, regardless of arrears

	today := d(2025, time.March, 20)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1))

	pastView := f.build(t, d(2025, time.March, 10), today)
	line, ok := lineFor(pastView, "cr-1")
	require.True(t, ok)
	assert.Equal(t, "10000", line.AmountDue.String())
}

// =============================================================================
// LINE STATES AND VISIBILITY
// =============================================================================

func TestBuildRoute_States(t *testing.T) {
	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.client("cl-2", "Bruno", "north")
	f.client("cl-3", "Carla", "north")

	// cr-1: due today, unpaid -> pending.
	f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1))
	f.pay("cr-1", 30000, d(2025, time.March, 4)) // covers March 2-4

	// cr-2: due today, paid today -> paid.
	f.dailyCredit(t, "cr-2", "cl-2", d(2025, time.March, 1))
	f.pay("cr-2", 40000, d(2025, time.March, 5)) // covers March 2-5

	// cr-3: nothing due (starts collecting tomorrow) but money recorded
	// today -> advanced.
	f.dailyCredit(t, "cr-3", "cl-3", d(2025, time.March, 5))
	f.pay("cr-3", 10000, d(2025, time.March, 5))

	report := f.build(t, today, today)

	l1, _ := lineFor(report, "cr-1")
	assert.Equal(t, route.LinePending, l1.State)

	l2, _ := lineFor(report, "cr-2")
	assert.Equal(t, route.LinePaid, l2.State)
	assert.Equal(t, "40000", l2.Collected.String())

	l3, _ := lineFor(report, "cr-3")
	assert.Equal(t, route.LineAdvanced, l3.State)
}

func TestBuildRoute_PrepaidCreditShowsPaidOnScheduledDays(t *testing.T) {
	// GIVEN: A credit paid off entirely in advance
	// WHEN: Viewing one of its scheduled days
	// THEN: A paid line with nothing to collect - the collector sees it is
	//       settled rather than wondering why the client vanished

	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1))
	f.pay("cr-1", 600000, d(2025, time.March, 2))

	report := f.build(t, today, today)

	line, ok := lineFor(report, "cr-1")
	require.True(t, ok)
	assert.Equal(t, route.LinePaid, line.State)
	assert.True(t, line.AmountDue.IsZero())
}

func TestBuildRoute_QuietCreditIsInvisible(t *testing.T) {
	// GIVEN: The same prepaid credit
	// WHEN: Viewing a date past its final installment
	// THEN: No line at all - nothing due, nothing collected that day

	today := d(2025, time.May, 10)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1)) // ends April 30
	f.pay("cr-1", 600000, d(2025, time.March, 2))

	report := f.build(t, today, today)

	_, ok := lineFor(report, "cr-1")
	assert.False(t, ok)
	assert.Equal(t, 0, report.ClientCount)
}

func TestBuildRoute_RenewedCreditsAreSkipped(t *testing.T) {
	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	c := f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1))
	c.Renewed = true

	report := f.build(t, today, today)
	assert.Empty(t, allLines(report))
}

func TestBuildRoute_MalformedScheduleFailsTheWholeBuild(t *testing.T) {
	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	c := f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1))
	c.Installments = c.Installments[:10] // truncated schedule

	_, err := route.BuildRoute(route.RouteInput{TargetDate: today, Today: today, Snapshot: f.snap})
	assert.True(t, credit.IsValidation(err))
}

// =============================================================================
// DEFERRAL OVERLAY
// =============================================================================

func TestBuildRoute_DeferralMovesLineBetweenDays(t *testing.T) {
	// GIVEN: A weekly credit with installment 1 (due March 8) deferred to
	//        March 12, viewed from before either date
	// WHEN: Viewing March 8 and March 12
	// THEN: The line leaves March 8 and appears on March 12

	today := d(2025, time.March, 3)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	c, err := credit.NewCredit("cr-1", "cl-1", m(100000), m(10000),
		credit.CadenceWeekly, d(2025, time.March, 1))
	require.NoError(t, err)
	f.snap.Credits = append(f.snap.Credits, c)
	f.snap.Deferrals = credit.NewDeferralSet([]credit.Deferral{
		{CreditID: c.ID, InstallmentNumber: 1, NewDueDate: d(2025, time.March, 12)},
	})

	march8 := f.build(t, d(2025, time.March, 8), today)
	_, ok := lineFor(march8, "cr-1")
	assert.False(t, ok, "deferred installment should leave its original day")

	march12 := f.build(t, d(2025, time.March, 12), today)
	line, ok := lineFor(march12, "cr-1")
	require.True(t, ok)
	assert.Equal(t, "10000", line.AmountDue.String())
}

// =============================================================================
// ORDERING
// =============================================================================

func TestBuildRoute_PortfolioBucketsAndManualOrder(t *testing.T) {
	// GIVEN: Three clients in two portfolios, one with a manual rank
	// WHEN: Building the route
	// THEN: Buckets alphabetical by portfolio; ranked clients first, the
	//       rest by name

	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-a", "Zoe", "south")
	f.client("cl-b", "Ana", "south")
	f.client("cl-c", "Bruno", "north")
	f.dailyCredit(t, "cr-a", "cl-a", d(2025, time.March, 1))
	f.dailyCredit(t, "cr-b", "cl-b", d(2025, time.March, 1))
	f.dailyCredit(t, "cr-c", "cl-c", d(2025, time.March, 1))

	// Zoe jumps the queue in south.
	f.snap.Orders = []credit.CollectionOrder{
		{Date: today, ClientID: "cl-a", Rank: 1},
	}

	report := f.build(t, today, today)

	require.Len(t, report.Buckets, 2)
	assert.Equal(t, "north", report.Buckets[0].Portfolio)
	assert.Equal(t, "south", report.Buckets[1].Portfolio)

	south := report.Buckets[1].Lines
	require.Len(t, south, 2)
	assert.Equal(t, "Zoe", south[0].ClientName, "ranked client goes first")
	assert.Equal(t, "Ana", south[1].ClientName)
}

// =============================================================================
// NOT-FOUND MARKERS
// =============================================================================

func TestBuildRoute_NotFoundCarriesToNextDay(t *testing.T) {
	// GIVEN: Ana marked not-found yesterday and not yet resolved
	// WHEN: Building today's route
	// THEN: She appears in the exception bucket as carried over and counts
	//       toward the client total

	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.snap.CarriedOver = []credit.NotFoundMarker{
		{Date: today.AddDays(-1), ClientID: "cl-1"},
	}

	report := f.build(t, today, today)

	require.Len(t, report.Unreported, 1)
	assert.True(t, report.Unreported[0].CarriedOver)
	assert.Equal(t, "Ana", report.Unreported[0].ClientName)
	assert.Equal(t, 1, report.ClientCount)
}

func TestBuildRoute_CarriedMarkerDropsWhenClientReappears(t *testing.T) {
	// GIVEN: Ana carried over from yesterday but due on today's route anyway
	// WHEN: Building
	// THEN: She shows as a normal line, not in the exception bucket, and is
	//       counted once

	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1))
	f.snap.CarriedOver = []credit.NotFoundMarker{
		{Date: today.AddDays(-1), ClientID: "cl-1"},
	}

	report := f.build(t, today, today)

	_, ok := lineFor(report, "cr-1")
	assert.True(t, ok)
	assert.Empty(t, report.Unreported)
	assert.Equal(t, 1, report.ClientCount)
}

func TestBuildRoute_RemarkedTodaySupersedesCarriedMarker(t *testing.T) {
	// GIVEN: Ana marked not-found both yesterday and today
	// WHEN: Building
	// THEN: One exception entry, attributed to today

	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.snap.NotFound = []credit.NotFoundMarker{{Date: today, ClientID: "cl-1"}}
	f.snap.CarriedOver = []credit.NotFoundMarker{{Date: today.AddDays(-1), ClientID: "cl-1"}}

	report := f.build(t, today, today)

	require.Len(t, report.Unreported, 1)
	assert.False(t, report.Unreported[0].CarriedOver)
	assert.True(t, report.Unreported[0].MarkedOn.Equal(today))
}

func TestLoadSnapshot_CarriesMarkersUntilCleared(t *testing.T) {
	// GIVEN: Ana marked not-found two days ago and never cleared, Rita's
	//        marker from the same day cleared
	// WHEN: Loading today's snapshot
	// THEN: Only Ana's marker is carried, with its original date, and she is
	//       still in today's exception queue

	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveClient(ctx, credit.Client{ID: "cl-1", Name: "Ana", Portfolio: "north"}))
	require.NoError(t, st.SaveClient(ctx, credit.Client{ID: "cl-2", Name: "Rita", Portfolio: "north"}))

	today := d(2025, time.March, 12)
	markedOn := today.AddDays(-2)
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: markedOn, ClientID: "cl-1"}))
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: markedOn, ClientID: "cl-2"}))
	require.NoError(t, st.ClearNotFound(ctx, markedOn, "cl-2"))

	snap, err := route.LoadSnapshot(ctx, st, today)
	require.NoError(t, err)
	require.Len(t, snap.CarriedOver, 1)
	assert.Equal(t, credit.ClientID("cl-1"), snap.CarriedOver[0].ClientID)

	report, err := route.BuildRoute(route.RouteInput{TargetDate: today, Today: today, Snapshot: snap})
	require.NoError(t, err)
	require.Len(t, report.Unreported, 1)
	assert.True(t, report.Unreported[0].CarriedOver)
	assert.True(t, report.Unreported[0].MarkedOn.Equal(markedOn))
}

func TestLoadSnapshot_CarriesOnlyLatestMarkerPerClient(t *testing.T) {
	// GIVEN: Ana marked not-found three days ago and again yesterday
	// WHEN: Loading today's snapshot
	// THEN: A single carried marker, attributed to the later date

	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveClient(ctx, credit.Client{ID: "cl-1", Name: "Ana", Portfolio: "north"}))

	today := d(2025, time.March, 12)
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: today.AddDays(-3), ClientID: "cl-1"}))
	require.NoError(t, st.MarkNotFound(ctx, credit.NotFoundMarker{Date: today.AddDays(-1), ClientID: "cl-1"}))

	snap, err := route.LoadSnapshot(ctx, st, today)
	require.NoError(t, err)
	require.Len(t, snap.CarriedOver, 1)
	assert.True(t, snap.CarriedOver[0].Date.Equal(today.AddDays(-1)))
}

// =============================================================================
// TOTALS
// =============================================================================

func TestBuildRoute_Totals(t *testing.T) {
	today := d(2025, time.March, 5)
	f := newFixture()
	f.client("cl-1", "Ana", "north")
	f.client("cl-2", "Bruno", "north")
	f.dailyCredit(t, "cr-1", "cl-1", d(2025, time.March, 1)) // 4 days owed: 40000
	f.dailyCredit(t, "cr-2", "cl-2", d(2025, time.March, 1))
	f.pay("cr-2", 40000, d(2025, time.March, 5)) // fully caught up, paid today

	report := f.build(t, today, today)

	assert.Equal(t, "40000", report.PendingTotal.String())
	assert.Equal(t, "40000", report.CollectedTotal.String())
	assert.Equal(t, 2, report.ClientCount)
}
