/*
snapshot.go - Assembling a route snapshot from a Store

PURPOSE:
  Fetches everything BuildRoute needs for one date in a single pass. The
  snapshot is taken fresh on every route read: after any write the caller
  fetches again rather than patching what it already holds.
*/
package route

import (
	"context"

	"github.com/gesakro/prestamos/credit"
)

// LoadSnapshot reads the full aggregation input for a target date.
func LoadSnapshot(ctx context.Context, st credit.Store, target credit.Date) (Snapshot, error) {
	snap := Snapshot{
		Clients:      make(map[credit.ClientID]credit.Client),
		Payments:     make(map[credit.CreditID][]credit.Payment),
		Fines:        make(map[credit.CreditID][]credit.Fine),
		FinePayments: make(map[credit.CreditID][]credit.FinePayment),
	}

	clients, err := st.ListClients(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, c := range clients {
		snap.Clients[c.ID] = c
	}

	snap.Credits, err = st.ListCredits(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	for _, c := range snap.Credits {
		if c.Renewed {
			continue // excluded from routes, no need to fetch its ledgers
		}
		if snap.Payments[c.ID], err = st.PaymentsByCredit(ctx, c.ID); err != nil {
			return Snapshot{}, err
		}
		if snap.Fines[c.ID], err = st.FinesByCredit(ctx, c.ID); err != nil {
			return Snapshot{}, err
		}
		if snap.FinePayments[c.ID], err = st.FinePaymentsByCredit(ctx, c.ID); err != nil {
			return Snapshot{}, err
		}
	}

	deferrals, err := st.ListDeferrals(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Deferrals = credit.NewDeferralSet(deferrals)

	if snap.Orders, err = st.CollectionOrderForDate(ctx, target); err != nil {
		return Snapshot{}, err
	}
	if snap.NotFound, err = st.NotFoundForDate(ctx, target); err != nil {
		return Snapshot{}, err
	}
	if snap.CarriedOver, err = st.LatestNotFoundBefore(ctx, target); err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}
