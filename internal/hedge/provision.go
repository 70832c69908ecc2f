package hedge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"hl-hedger/internal/venue"

	"go.uber.org/zap"
)

type idleSubaccount struct {
	venue.Subaccount
	index int
}

// activeName derives the claim name for a position. Hyperliquid caps
// subaccount names, so the hash is cut to fit behind the prefix.
func (o *Orchestrator) activeName(positionHash string) string {
	hash := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(positionHash)), "0x")
	name := o.cfg.ActivePrefix + hash
	if o.cfg.NameMax > 0 && len(name) > o.cfg.NameMax {
		name = name[:o.cfg.NameMax]
	}
	return name
}

func idleIndex(name, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || strconv.Itoa(n) != rest {
		return 0, false
	}
	return n, true
}

// idleSubaccounts returns subaccounts carrying an idle name, lowest index first.
func idleSubaccounts(subs []venue.Subaccount, prefix string) []idleSubaccount {
	var idle []idleSubaccount
	for _, sub := range subs {
		if n, ok := idleIndex(sub.Name, prefix); ok {
			idle = append(idle, idleSubaccount{Subaccount: sub, index: n})
		}
	}
	sort.SliceStable(idle, func(i, j int) bool { return idle[i].index < idle[j].index })
	return idle
}

func (o *Orchestrator) prepareSubaccount(ctx context.Context, st *State, log *zap.Logger) error {
	target := o.activeName(st.Request.PositionHash)
	var lastErr error
	for attempt := 1; attempt <= o.cfg.ClaimAttempts; attempt++ {
		subs, err := o.venue.ListSubaccounts(ctx, st.Owner)
		if err != nil {
			return &SubaccountPreparationError{Err: fmt.Errorf("list subaccounts: %w", err)}
		}
		idle := idleSubaccounts(subs, o.cfg.IdlePrefix)
		if len(idle) == 0 {
			addr, err := o.venue.CreateSubaccount(ctx, st.Owner, target)
			if err != nil {
				return &SubaccountPreparationError{Err: fmt.Errorf("create subaccount %s: %w", target, err)}
			}
			st.Subaccount = venue.Subaccount{Address: addr, Name: target, Owner: st.Owner}
			st.advance(StageSubaccountPrepared)
			log.Info("subaccount created", zap.String("subaccount", addr), zap.String("name", target))
			return nil
		}
		pick := idle[0]
		err = o.venue.ClaimSubaccount(ctx, st.Owner, pick.Address, pick.Name, target)
		if err == nil {
			st.Subaccount = venue.Subaccount{Address: pick.Address, Name: target, Owner: st.Owner}
			st.advance(StageSubaccountPrepared)
			log.Info("subaccount claimed",
				zap.String("subaccount", pick.Address),
				zap.String("from", pick.Name),
				zap.String("name", target),
			)
			return nil
		}
		if !errors.Is(err, venue.ErrClaimConflict) {
			return &SubaccountPreparationError{Err: fmt.Errorf("claim %s: %w", pick.Address, err)}
		}
		lastErr = err
		log.Warn("subaccount claim conflict", zap.Int("attempt", attempt), zap.String("subaccount", pick.Address), zap.Error(err))
	}
	return &SubaccountPreparationError{Err: fmt.Errorf("claim failed after %d attempts: %w", o.cfg.ClaimAttempts, lastErr)}
}
