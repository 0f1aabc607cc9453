// services/escrow_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"wager-ledger/config"
	"wager-ledger/models"
	"wager-ledger/shard"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

type EscrowConfig struct {
	Caps
	RemainderPolicy string
	HouseAccountID  string
	SafeZone        SafeZonePolicy
}

// EscrowService moves coins between accounts and match pots. Balances live
// on the shards, pots and rosters in the registry; the intent log ties the
// two together when a step fails halfway.
type EscrowService struct {
	Accounts *AccountStore
	Registry *MatchRegistry
	Intents  *IntentLog
	Config   EscrowConfig
}

func NewEscrowService(accounts *AccountStore, registry *MatchRegistry, intents *IntentLog, cfg EscrowConfig) (*EscrowService, error) {
	if err := cfg.SafeZone.Validate(); err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}
	switch cfg.RemainderPolicy {
	case "":
		cfg.RemainderPolicy = config.RemainderDiscard
	case config.RemainderDiscard:
	case config.RemainderHouse:
		if cfg.HouseAccountID == "" {
			return nil, fmt.Errorf("escrow: house remainder policy needs a house account")
		}
	default:
		return nil, fmt.Errorf("escrow: unknown remainder policy %q", cfg.RemainderPolicy)
	}
	return &EscrowService{Accounts: accounts, Registry: registry, Intents: intents, Config: cfg}, nil
}

// CreateMatch registers an empty active match with its safe-zone timeline.
func (s *EscrowService) CreateMatch(ctx context.Context, name string, stakeUnit int64, expectedPlayers int) (*models.Match, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(CodeInvalidArgument, "match name is required")
	}
	if stakeUnit < 0 {
		return nil, newError(CodeInvalidArgument, "stake unit must not be negative")
	}
	if expectedPlayers < 1 {
		return nil, newError(CodeInvalidArgument, "expected players must be at least 1")
	}

	id := uuid.NewString()
	match := &models.Match{
		ID:              id,
		Name:            name,
		Slug:            slug.Make(name) + "-" + id[:8],
		StakeUnit:       stakeUnit,
		ExpectedPlayers: expectedPlayers,
		Active:          true,
		SafeZone:        s.Config.SafeZone.Timeline(expectedPlayers),
		Version:         1,
	}
	if err := s.Registry.Create(ctx, match); err != nil {
		return nil, err
	}
	log.Printf("✅ [ESCROW] Created match %s (%s) stake=%d players=%d", match.ID, match.Slug, stakeUnit, expectedPlayers)
	return match, nil
}

func (s *EscrowService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	return s.Registry.Get(ctx, matchID)
}

// JoinMatch debits the stake on the account's shard, then adds the member
// and the stake to the pot in the registry. A registry rejection after the
// debit refunds it.
func (s *EscrowService) JoinMatch(ctx context.Context, accountID, matchID, squad string) error {
	match, err := s.Registry.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if err := CheckJoin(match, accountID, s.Config.Caps); err != nil {
		return err
	}

	intent := &models.TransferIntent{
		Kind:    models.IntentJoin,
		MatchID: matchID,
		Squad:   squad,
		Legs: []models.IntentLeg{{
			AccountID: accountID,
			Shard:     s.Accounts.Router.ShardIndex(accountID),
			Delta:     -match.StakeUnit,
		}},
	}
	if err := s.Intents.Create(ctx, intent); err != nil {
		return err
	}
	if _, err := s.apply(ctx, intent, models.EntryKindJoin); err != nil {
		return err
	}

	if err := s.Registry.AddMember(ctx, matchID, accountID, squad, intent.ID, s.Config.Caps); err != nil {
		log.Printf("⚠️ [ESCROW] Join of %s to match %s rejected after debit, refunding: %v", accountID, matchID, err)
		s.reverse(ctx, intent, models.EntryKindJoin, err)
		return err
	}
	log.Printf("✅ [ESCROW] %s joined match %s (squad %q, stake %d)", accountID, matchID, squad, match.StakeUnit)
	return nil
}

// RecordOutcomeTransfer moves one stake from loser to winner and marks the
// loser eliminated.
func (s *EscrowService) RecordOutcomeTransfer(ctx context.Context, winnerID, loserID, matchID string) error {
	match, err := s.Registry.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if err := CheckOutcome(match, winnerID, loserID); err != nil {
		return err
	}

	router := s.Accounts.Router
	intent := &models.TransferIntent{
		Kind:    models.IntentOutcome,
		MatchID: matchID,
		Legs: []models.IntentLeg{
			{AccountID: loserID, Shard: router.ShardIndex(loserID), Delta: -match.StakeUnit},
			{AccountID: winnerID, Shard: router.ShardIndex(winnerID), Delta: match.StakeUnit},
		},
	}
	if err := s.Intents.Create(ctx, intent); err != nil {
		return err
	}
	if _, err := s.apply(ctx, intent, models.EntryKindOutcome); err != nil {
		return err
	}

	if err := s.Registry.Eliminate(ctx, matchID, winnerID, loserID, intent.ID); err != nil {
		log.Printf("⚠️ [ESCROW] Outcome %s beat %s in match %s rejected after transfer, reversing: %v", winnerID, loserID, matchID, err)
		s.reverse(ctx, intent, models.EntryKindOutcome, err)
		return err
	}
	log.Printf("⚔️ [ESCROW] %s eliminated %s in match %s (+%d)", winnerID, loserID, matchID, match.StakeUnit)
	return nil
}

// SettleMatch pays the pot out evenly to the survivors and closes the
// match. On failure the match stays active with its pot, and a retry pays
// the same amounts.
func (s *EscrowService) SettleMatch(ctx context.Context, matchID string) (map[string]int64, error) {
	return s.close(ctx, matchID, models.IntentSettle)
}

// CancelMatch refunds every member's stake and closes the match.
func (s *EscrowService) CancelMatch(ctx context.Context, matchID string) (map[string]int64, error) {
	return s.close(ctx, matchID, models.IntentCancel)
}

func (s *EscrowService) close(ctx context.Context, matchID string, kind models.IntentKind) (map[string]int64, error) {
	// Cheap rejection first; BeginSettlement repeats the check under lock.
	current, err := s.Registry.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := mutable(current); err != nil {
		return nil, err
	}

	intent := &models.TransferIntent{Kind: kind, MatchID: matchID}
	if err := s.Intents.Create(ctx, intent); err != nil {
		return nil, err
	}
	match, err := s.Registry.BeginSettlement(ctx, matchID, intent.ID)
	if err != nil {
		s.mark(ctx, intent.ID, models.IntentFailed, err)
		return nil, err
	}

	var payouts map[string]int64
	var remainder int64
	reason := models.CloseReasonSettled
	if kind == models.IntentCancel {
		reason = models.CloseReasonCancelled
		payouts, remainder = s.refunds(match)
	} else {
		payouts, remainder = s.shares(match)
	}
	if len(payouts) == 0 {
		reason = models.CloseReasonEmpty
		if kind == models.IntentCancel {
			reason = models.CloseReasonCancelled
		}
	}

	legs := s.payoutLegs(payouts)
	forfeited := remainder
	if remainder > 0 && len(payouts) > 0 && s.Config.RemainderPolicy == config.RemainderHouse {
		legs = mergeLegs(append(legs, models.IntentLeg{
			AccountID: s.Config.HouseAccountID,
			Shard:     s.Accounts.Router.ShardIndex(s.Config.HouseAccountID),
			Delta:     remainder,
		}))
		forfeited = 0
	}

	if len(legs) > 0 {
		if err := s.Intents.SetLegs(ctx, intent.ID, legs); err != nil {
			s.release(ctx, intent.ID, matchID, err)
			return nil, err
		}
		intent.Legs = legs

		entryKind := models.EntryKindSettle
		if kind == models.IntentCancel {
			entryKind = models.EntryKindCancel
		}
		clean, err := s.apply(ctx, intent, entryKind)
		if err != nil {
			if clean {
				s.release(ctx, intent.ID, matchID, err)
			} else {
				log.Printf("🚨 [ESCROW] Match %s left claimed by intent %s until reconciled", matchID, intent.ID)
			}
			return nil, err
		}
	}

	if err := s.Registry.FinishSettlement(ctx, matchID, intent.ID, forfeited, reason); err != nil {
		log.Printf("❌ [ESCROW] Payouts for match %s landed but closing failed, reconciler will finish intent %s: %v", matchID, intent.ID, err)
		return nil, err
	}
	if payouts == nil {
		payouts = map[string]int64{}
	}
	log.Printf("💰 [ESCROW] Match %s %s: %d payouts, forfeited %d", matchID, reason, len(payouts), forfeited)
	return payouts, nil
}

// shares splits the pot evenly among survivors. The floor-division
// remainder is returned separately.
func (s *EscrowService) shares(match *models.Match) (map[string]int64, int64) {
	survivors := match.Survivors()
	if len(survivors) == 0 || match.Pot == 0 {
		return nil, match.Pot
	}
	n := int64(len(survivors))
	share := match.Pot / n
	payouts := make(map[string]int64, len(survivors))
	for _, m := range survivors {
		payouts[m.AccountID] = share
	}
	return payouts, match.Pot - share*n
}

// refunds returns every member's stake. Whatever the pot holds beyond the
// refunds is the remainder.
func (s *EscrowService) refunds(match *models.Match) (map[string]int64, int64) {
	if len(match.Members) == 0 {
		return nil, match.Pot
	}
	payouts := make(map[string]int64, len(match.Members))
	var total int64
	for _, m := range match.Members {
		payouts[m.AccountID] = match.StakeUnit
		total += match.StakeUnit
	}
	if total > match.Pot {
		// Cannot happen while pot tracks joins; refund what is there evenly.
		return s.spread(match, match.Members)
	}
	return payouts, match.Pot - total
}

func (s *EscrowService) spread(match *models.Match, members []models.MatchMember) (map[string]int64, int64) {
	n := int64(len(members))
	share := match.Pot / n
	payouts := make(map[string]int64, len(members))
	for _, m := range members {
		payouts[m.AccountID] = share
	}
	return payouts, match.Pot - share*n
}

func (s *EscrowService) payoutLegs(payouts map[string]int64) []models.IntentLeg {
	legs := make([]models.IntentLeg, 0, len(payouts))
	for id, amount := range payouts {
		if amount == 0 {
			continue
		}
		legs = append(legs, models.IntentLeg{
			AccountID: id,
			Shard:     s.Accounts.Router.ShardIndex(id),
			Delta:     amount,
		})
	}
	return mergeLegs(legs)
}

// mergeLegs folds legs on the same account into one and orders them by
// shard then account, the order sessions and row locks are taken in.
func mergeLegs(legs []models.IntentLeg) []models.IntentLeg {
	byAccount := map[string]int{}
	var out []models.IntentLeg
	for _, leg := range legs {
		if i, ok := byAccount[leg.AccountID]; ok {
			out[i].Delta += leg.Delta
			continue
		}
		byAccount[leg.AccountID] = len(out)
		out = append(out, leg)
	}
	sortLegs(out)
	return out
}

func sortLegs(legs []models.IntentLeg) {
	sort.Slice(legs, func(i, j int) bool {
		if legs[i].Shard != legs[j].Shard {
			return legs[i].Shard < legs[j].Shard
		}
		return legs[i].AccountID < legs[j].AccountID
	})
}

// commitLegs applies legs with one session per shard, opened in ascending
// shard order. Every leg is written before any session commits, so a failed
// balance check rolls everything back. It returns the shards whose commit
// landed; a non-empty result with an error is a partial commit.
func (s *EscrowService) commitLegs(ctx context.Context, intent *models.TransferIntent, kind models.EntryKind, phase models.EntryPhase, legs []models.IntentLeg) ([]int, error) {
	legs = append([]models.IntentLeg(nil), legs...)
	sortLegs(legs)

	var sessions []shard.Session
	defer func() {
		for _, sess := range sessions {
			sess.Rollback()
		}
	}()

	byShard := map[int]shard.Session{}
	for _, leg := range legs {
		if _, ok := byShard[leg.Shard]; ok {
			continue
		}
		sess, err := s.Accounts.Router.Begin(ctx, leg.Shard)
		if err != nil {
			return nil, storageError("failed to open shard session", err)
		}
		byShard[leg.Shard] = sess
		sessions = append(sessions, sess)
	}

	matchID := intent.MatchID
	for _, leg := range legs {
		_, _, err := s.Accounts.adjust(byShard[leg.Shard].Tx(), leg.AccountID, leg.Delta, models.LedgerEntry{
			IntentID: intent.ID,
			Kind:     kind,
			Phase:    phase,
			MatchID:  &matchID,
		})
		if err != nil {
			return nil, err
		}
	}

	var committed []int
	for _, sess := range sessions {
		if err := sess.Commit(); err != nil {
			return committed, storageError(fmt.Sprintf("failed to commit shard %d", sess.Shard()), err)
		}
		committed = append(committed, sess.Shard())
	}
	return committed, nil
}

// apply commits the intent's legs. When a later shard fails after an
// earlier one committed, the landed legs are compensated straight away.
// clean reports whether no net balance change remains after a failure.
func (s *EscrowService) apply(ctx context.Context, intent *models.TransferIntent, kind models.EntryKind) (clean bool, err error) {
	committed, err := s.commitLegs(ctx, intent, kind, models.PhaseApply, intent.Legs)
	if err == nil {
		s.mark(ctx, intent.ID, models.IntentCommitted, nil)
		return true, nil
	}
	if len(committed) == 0 {
		s.mark(ctx, intent.ID, models.IntentFailed, err)
		return true, err
	}

	log.Printf("🚨 [ESCROW] PARTIAL COMMIT intent=%s match=%s kind=%s committed shards=%v: %v",
		intent.ID, intent.MatchID, intent.Kind, committed, err)
	s.mark(ctx, intent.ID, models.IntentPartial, err)

	if cerr := s.compensate(ctx, intent, kind, legsOn(intent.Legs, committed)); cerr != nil {
		log.Printf("🚨 [ESCROW] Compensation of intent %s failed, left for reconciler: %v", intent.ID, cerr)
		return false, err
	}
	s.mark(ctx, intent.ID, models.IntentCompensated, err)
	return true, err
}

// reverse undoes a fully committed intent whose registry step was rejected.
func (s *EscrowService) reverse(ctx context.Context, intent *models.TransferIntent, kind models.EntryKind, cause error) {
	if err := s.compensate(ctx, intent, kind, intent.Legs); err != nil {
		log.Printf("🚨 [ESCROW] Reversal of intent %s failed, left for reconciler: %v", intent.ID, err)
		return
	}
	s.mark(ctx, intent.ID, models.IntentCompensated, cause)
}

// compensate writes the negation of legs in the compensate phase. Legs
// already compensated are skipped by the journal check, so it can be
// repeated.
func (s *EscrowService) compensate(ctx context.Context, intent *models.TransferIntent, kind models.EntryKind, legs []models.IntentLeg) error {
	if len(legs) == 0 {
		return nil
	}
	reversed := make([]models.IntentLeg, len(legs))
	for i, leg := range legs {
		reversed[i] = leg
		reversed[i].Delta = -leg.Delta
	}
	committed, err := s.commitLegs(ctx, intent, kind, models.PhaseCompensate, reversed)
	if err != nil && len(committed) > 0 {
		log.Printf("🚨 [ESCROW] PARTIAL COMMIT while compensating intent %s, committed shards=%v: %v", intent.ID, committed, err)
	}
	return err
}

func (s *EscrowService) release(ctx context.Context, intentID, matchID string, cause error) {
	if err := s.Registry.ReleaseSettlement(ctx, matchID, intentID); err != nil {
		log.Printf("❌ [ESCROW] Failed to release claim on match %s: %v", matchID, err)
	}
	s.mark(ctx, intentID, models.IntentFailed, cause)
}

// mark logs instead of failing: an intent left behind is picked up by the
// reconciler.
func (s *EscrowService) mark(ctx context.Context, intentID string, state models.IntentState, cause error) {
	if err := s.Intents.Mark(ctx, intentID, state, cause); err != nil {
		log.Printf("⚠️ [ESCROW] Failed to mark intent %s %s: %v", intentID, state, err)
	}
}

func legsOn(legs []models.IntentLeg, shards []int) []models.IntentLeg {
	on := map[int]bool{}
	for _, idx := range shards {
		on[idx] = true
	}
	var out []models.IntentLeg
	for _, leg := range legs {
		if on[leg.Shard] {
			out = append(out, leg)
		}
	}
	return out
}
