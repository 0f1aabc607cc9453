// services/reconciler.go
package services

import (
	"context"
	"log"
	"time"

	"wager-ledger/models"
)

// ReconcileReport counts what one pass did.
type ReconcileReport struct {
	Scanned     int `json:"scanned"`
	Completed   int `json:"completed"`
	Compensated int `json:"compensated"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

// Reconciler finishes or reverses intents left open by a crash or a
// failure between shard commits. The shard journals are the source of
// truth for which legs landed.
type Reconciler struct {
	Escrow *EscrowService
	Grace  time.Duration
	Batch  int

	now func() time.Time
}

func NewReconciler(escrow *EscrowService, grace time.Duration) *Reconciler {
	return &Reconciler{Escrow: escrow, Grace: grace, Batch: 100, now: time.Now}
}

// Run resolves every open intent older than the grace period.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	cutoff := r.now().UTC().Add(-r.Grace)
	intents, err := r.Escrow.Intents.Stale(ctx, cutoff, r.Batch)
	if err != nil {
		return report, err
	}
	for i := range intents {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		intent := &intents[i]
		report.Scanned++
		state, err := r.resolve(ctx, intent)
		if err != nil {
			log.Printf("⚠️ [RECONCILE] Intent %s (%s, match %s) still open: %v", intent.ID, intent.Kind, intent.MatchID, err)
			report.Skipped++
			continue
		}
		switch state {
		case models.IntentApplied:
			report.Completed++
		case models.IntentCompensated:
			report.Compensated++
		case models.IntentFailed:
			report.Failed++
		}
	}
	if report.Scanned > 0 {
		log.Printf("🔁 [RECONCILE] scanned=%d completed=%d compensated=%d failed=%d skipped=%d",
			report.Scanned, report.Completed, report.Compensated, report.Failed, report.Skipped)
	}
	return report, nil
}

type legStatus struct {
	leg         models.IntentLeg
	applied     bool
	compensated bool
}

func (r *Reconciler) inspect(ctx context.Context, intent *models.TransferIntent) ([]legStatus, error) {
	out := make([]legStatus, 0, len(intent.Legs))
	for _, leg := range intent.Legs {
		applied, compensated, err := r.Escrow.Accounts.legEntries(ctx, leg.Shard, intent.ID, leg.AccountID)
		if err != nil {
			return nil, err
		}
		out = append(out, legStatus{leg: leg, applied: applied, compensated: compensated})
	}
	return out, nil
}

// resolve returns the terminal state the intent reached.
func (r *Reconciler) resolve(ctx context.Context, intent *models.TransferIntent) (models.IntentState, error) {
	es := r.Escrow
	kind := entryKindFor(intent.Kind)
	statuses, err := r.inspect(ctx, intent)
	if err != nil {
		return "", err
	}

	var landed, pending []models.IntentLeg
	anyCompensated := false
	for _, st := range statuses {
		if st.applied {
			landed = append(landed, st.leg)
			if !st.compensated {
				pending = append(pending, st.leg)
			}
		}
		if st.compensated {
			anyCompensated = true
		}
	}
	closing := intent.Kind == models.IntentSettle || intent.Kind == models.IntentCancel

	// Nothing landed anywhere.
	if len(landed) == 0 {
		if closing {
			if err := es.Registry.ReleaseSettlement(ctx, intent.MatchID, intent.ID); err != nil {
				return "", err
			}
		}
		if err := es.Intents.Mark(ctx, intent.ID, models.IntentFailed, nil); err != nil {
			return "", err
		}
		log.Printf("🔁 [RECONCILE] Intent %s had no landed legs, marked failed", intent.ID)
		return models.IntentFailed, nil
	}

	// Some legs landed, or a reversal was already under way.
	if len(landed) < len(statuses) || anyCompensated || intent.State == models.IntentPartial {
		return r.unwind(ctx, intent, kind, pending, closing)
	}

	// Every leg landed; finish the registry step.
	var stepErr error
	switch intent.Kind {
	case models.IntentJoin:
		stepErr = es.Registry.AddMember(ctx, intent.MatchID, intent.Legs[0].AccountID, intent.Squad, intent.ID, es.Config.Caps)
	case models.IntentOutcome:
		winner, loser := outcomeParties(intent)
		stepErr = es.Registry.Eliminate(ctx, intent.MatchID, winner, loser, intent.ID)
	case models.IntentSettle, models.IntentCancel:
		stepErr = r.finishClose(ctx, intent)
	}
	if stepErr == nil {
		log.Printf("✅ [RECONCILE] Intent %s (%s) completed", intent.ID, intent.Kind)
		return models.IntentApplied, nil
	}
	switch CodeOf(stepErr) {
	case CodeInvalidState, CodeNotFound:
		log.Printf("🔁 [RECONCILE] Intent %s rejected by registry, reversing: %v", intent.ID, stepErr)
		return r.unwind(ctx, intent, kind, pending, closing)
	default:
		return "", stepErr
	}
}

func (r *Reconciler) unwind(ctx context.Context, intent *models.TransferIntent, kind models.EntryKind, legs []models.IntentLeg, closing bool) (models.IntentState, error) {
	es := r.Escrow
	if err := es.compensate(ctx, intent, kind, legs); err != nil {
		return "", err
	}
	if closing {
		if err := es.Registry.ReleaseSettlement(ctx, intent.MatchID, intent.ID); err != nil {
			return "", err
		}
	}
	if err := es.Intents.Mark(ctx, intent.ID, models.IntentCompensated, nil); err != nil {
		return "", err
	}
	log.Printf("↩️ [RECONCILE] Intent %s compensated (%d legs)", intent.ID, len(legs))
	return models.IntentCompensated, nil
}

// finishClose closes a claimed match whose payouts all landed. The pot is
// unchanged while the claim is held, so what it holds beyond the legs is
// what was forfeited.
func (r *Reconciler) finishClose(ctx context.Context, intent *models.TransferIntent) error {
	es := r.Escrow
	match, err := es.Registry.Get(ctx, intent.MatchID)
	if err != nil {
		return err
	}
	var paid int64
	for _, leg := range intent.Legs {
		paid += leg.Delta
	}
	reason := models.CloseReasonSettled
	if intent.Kind == models.IntentCancel {
		reason = models.CloseReasonCancelled
	}
	forfeited := match.Pot - paid
	if forfeited < 0 {
		forfeited = 0
	}
	return es.Registry.FinishSettlement(ctx, intent.MatchID, intent.ID, forfeited, reason)
}

// outcomeParties relies on outcome legs being recorded loser first.
func outcomeParties(intent *models.TransferIntent) (winner, loser string) {
	if len(intent.Legs) != 2 {
		return "", ""
	}
	return intent.Legs[1].AccountID, intent.Legs[0].AccountID
}

func entryKindFor(kind models.IntentKind) models.EntryKind {
	switch kind {
	case models.IntentJoin:
		return models.EntryKindJoin
	case models.IntentOutcome:
		return models.EntryKindOutcome
	case models.IntentCancel:
		return models.EntryKindCancel
	default:
		return models.EntryKindSettle
	}
}
