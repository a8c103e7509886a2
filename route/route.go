/*
Package route builds the daily field-collection route.

PURPOSE:
  For a target calendar date, scan every non-renewed credit, overlay
  deferrals, run the allocation engine, and produce the day's line items:
  who the collector must visit, what they owe today, what was collected,
  grouped by portfolio and ordered by the manual collection order.

THE TWO-DAY OVERDUE WINDOW:
  An installment is "due today" when its effective due date equals the
  target date, OR it is overdue (effective due date before the real today,
  still owing) and the target date is the real today or tomorrow. Browsing
  an arbitrary past or future date shows exact matches only; the live
  today/tomorrow views also surface every unresolved overdue installment.
  This asymmetry is a documented business rule. Do not "fix" it.

SEE ALSO:
  - snapshot.go: assembling a Snapshot from a Store
  - credit/allocation.go: the per-credit math this package aggregates
*/
package route

import (
	"sort"

	"github.com/gesakro/prestamos/credit"
)

// =============================================================================
// INPUT SNAPSHOT
// =============================================================================

// Snapshot is the already-fetched data BuildRoute aggregates. It must be
// re-fetched after any write; the aggregator never patches a stale snapshot.
type Snapshot struct {
	Clients      map[credit.ClientID]credit.Client
	Credits      []*credit.Credit
	Payments     map[credit.CreditID][]credit.Payment
	Fines        map[credit.CreditID][]credit.Fine
	FinePayments map[credit.CreditID][]credit.FinePayment
	Deferrals    *credit.DeferralSet
	Orders       []credit.CollectionOrder
	NotFound     []credit.NotFoundMarker // markers for the target date
	CarriedOver  []credit.NotFoundMarker // most recent uncleared marker per client before the target date
}

// RouteInput carries the snapshot plus the two dates the window rule needs.
type RouteInput struct {
	TargetDate credit.Date // the date being viewed
	Today      credit.Date // the real calendar date
	Snapshot   Snapshot
}

// =============================================================================
// OUTPUT
// =============================================================================

type LineState string

const (
	LinePending  LineState = "pending"  // something due remains unpaid
	LinePaid     LineState = "paid"     // due today and fully settled
	LineAdvanced LineState = "advanced" // payment today with nothing due
)

// Line is one credit's entry on the day's route.
type Line struct {
	CreditID          credit.CreditID
	ClientID          credit.ClientID
	ClientName        string
	Portfolio         string
	Cadence           credit.Cadence
	State             LineState
	AmountDue         credit.Money // outstanding on installments due today
	Collected         credit.Money // payments + fine payments dated today
	CreditOutstanding credit.Money // capital + fines, whole credit
	OverdueCount      int
	EarliestOverdue   *credit.Date

	rank    int
	hasRank bool
}

// Bucket groups a portfolio's lines in display order.
type Bucket struct {
	Portfolio string
	Lines     []Line
}

// UnreportedEntry is a client the collector could not reach.
type UnreportedEntry struct {
	ClientID   credit.ClientID
	ClientName string
	Portfolio  string
	MarkedOn   credit.Date
	CarriedOver bool
}

type RouteReport struct {
	Date           credit.Date
	Buckets        []Bucket
	Unreported     []UnreportedEntry
	PendingTotal   credit.Money
	CollectedTotal credit.Money
	ClientCount    int // reported clients + carried-over not-found clients
}

// =============================================================================
// BUILD ROUTE
// =============================================================================

// BuildRoute produces the day's route report. It returns a validation error
// for a malformed schedule; credits with zero activity on the date are
// simply invisible that day.
func BuildRoute(in RouteInput) (*RouteReport, error) {
	report := &RouteReport{
		Date:           in.TargetDate,
		PendingTotal:   credit.ZeroMoney(),
		CollectedTotal: credit.ZeroMoney(),
	}

	rankByClient := make(map[credit.ClientID]int, len(in.Snapshot.Orders))
	for _, o := range in.Snapshot.Orders {
		rankByClient[o.ClientID] = o.Rank
	}

	var lines []Line
	for _, c := range in.Snapshot.Credits {
		if c.Renewed {
			continue
		}
		if err := credit.ValidateSchedule(c); err != nil {
			return nil, err
		}
		line, visible := buildLine(in, c, rankByClient)
		if visible {
			lines = append(lines, line)
		}
	}

	report.Buckets = groupIntoBuckets(lines)

	seen := make(map[credit.ClientID]bool)
	for _, l := range lines {
		report.PendingTotal = report.PendingTotal.Add(l.AmountDue)
		report.CollectedTotal = report.CollectedTotal.Add(l.Collected)
		seen[l.ClientID] = true
	}
	report.ClientCount = len(seen)

	report.Unreported = mergeUnreported(in, seen)
	for _, u := range report.Unreported {
		if u.CarriedOver {
			report.ClientCount++
		}
	}

	return report, nil
}

func buildLine(in RouteInput, c *credit.Credit, rankByClient map[credit.ClientID]int) (Line, bool) {
	snap := in.Snapshot
	payments := snap.Payments[c.ID]
	balances := credit.Allocate(c.Installments, c.InstallmentValue, payments)
	fineBalances := credit.CoverFines(snap.Fines[c.ID], snap.FinePayments[c.ID])

	dueOutstanding := credit.ZeroMoney()
	hadDue := false
	for _, b := range balances {
		due := snap.Deferrals.EffectiveDueDate(c.ID, b.Number, b.ScheduledDate)
		if dueOnTarget(due, b.Outstanding, in.TargetDate, in.Today) {
			hadDue = true
			dueOutstanding = dueOutstanding.Add(b.Outstanding)
		}
	}

	collected := collectedOn(in.TargetDate, payments, snap.FinePayments[c.ID])

	// A credit with nothing due and no money recorded today is invisible.
	if !hadDue && collected.IsZero() {
		return Line{}, false
	}

	state := LineAdvanced
	switch {
	case dueOutstanding.IsPositive():
		state = LinePending
	case hadDue:
		state = LinePaid
	}

	overdueNumbers, earliest := credit.OverdueInstallments(c, balances, snap.Deferrals, in.Today)

	client := snap.Clients[c.ClientID]
	rank, hasRank := rankByClient[c.ClientID]

	return Line{
		CreditID:          c.ID,
		ClientID:          c.ClientID,
		ClientName:        client.Name,
		Portfolio:         client.Portfolio,
		Cadence:           c.Cadence,
		State:             state,
		AmountDue:         dueOutstanding,
		Collected:         collected,
		CreditOutstanding: credit.TotalOutstanding(balances).Add(credit.TotalFineOutstanding(fineBalances)),
		OverdueCount:      len(overdueNumbers),
		EarliestOverdue:   earliest,
		rank:              rank,
		hasRank:           hasRank,
	}, true
}

// dueOnTarget is the two-day overdue window rule. Exact match always counts;
// an overdue installment with money owed additionally surfaces when the view
// is the real today or tomorrow.
func dueOnTarget(effective credit.Date, outstanding credit.Money, target, today credit.Date) bool {
	if effective.Equal(target) {
		return true
	}
	if !effective.Before(today) || !outstanding.IsPositive() {
		return false
	}
	return target.Equal(today) || target.Equal(today.AddDays(1))
}

func collectedOn(date credit.Date, payments []credit.Payment, finePayments []credit.FinePayment) credit.Money {
	total := credit.ZeroMoney()
	for _, p := range payments {
		if p.Date.Equal(date) {
			total = total.Add(p.Value)
		}
	}
	for _, fp := range finePayments {
		if fp.Date.Equal(date) {
			total = total.Add(fp.Value)
		}
	}
	return total
}

func groupIntoBuckets(lines []Line) []Bucket {
	byPortfolio := make(map[string][]Line)
	for _, l := range lines {
		byPortfolio[l.Portfolio] = append(byPortfolio[l.Portfolio], l)
	}

	tags := make([]string, 0, len(byPortfolio))
	for tag := range byPortfolio {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	buckets := make([]Bucket, 0, len(tags))
	for _, tag := range tags {
		group := byPortfolio[tag]
		// Manual rank first, missing rank last, name as tiebreak.
		sort.SliceStable(group, func(i, j int) bool {
			a, b := group[i], group[j]
			switch {
			case a.hasRank && b.hasRank && a.rank != b.rank:
				return a.rank < b.rank
			case a.hasRank != b.hasRank:
				return a.hasRank
			default:
				return a.ClientName < b.ClientName
			}
		})
		buckets = append(buckets, Bucket{Portfolio: tag, Lines: group})
	}
	return buckets
}

// mergeUnreported builds the exception bucket: clients explicitly marked
// not-found on the target date, plus uncleared markers carried from earlier
// dates. A marker keeps carrying until it is cleared, re-marked, or the
// client reappears in a normal bucket (for example via a deferral onto
// today) - reappearing clients are not double-counted.
func mergeUnreported(in RouteInput, reported map[credit.ClientID]bool) []UnreportedEntry {
	var entries []UnreportedEntry
	today := make(map[credit.ClientID]bool, len(in.Snapshot.NotFound))

	for _, m := range in.Snapshot.NotFound {
		today[m.ClientID] = true
		entries = append(entries, unreportedEntry(in.Snapshot, m, false))
	}
	for _, m := range in.Snapshot.CarriedOver {
		if today[m.ClientID] || reported[m.ClientID] {
			continue
		}
		entries = append(entries, unreportedEntry(in.Snapshot, m, true))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ClientName < entries[j].ClientName })
	return entries
}

func unreportedEntry(snap Snapshot, m credit.NotFoundMarker, carried bool) UnreportedEntry {
	client := snap.Clients[m.ClientID]
	return UnreportedEntry{
		ClientID:    m.ClientID,
		ClientName:  client.Name,
		Portfolio:   client.Portfolio,
		MarkedOn:    m.Date,
		CarriedOver: carried,
	}
}
