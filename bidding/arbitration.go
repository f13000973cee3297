package bidding

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"gavel/models"
)

// competitor is one live competing interest on an item. A proxy bid
// and all the auto-escalations placed on its behalf form a single
// competitor (a chain); a regular or buy-now bid is a chain of one.
type competitor struct {
	RootBidID uuid.UUID
	TopBidID  uuid.UUID // ledger row carrying the chain's standing amount
	UserID    uuid.UUID
	Amount    int64 // standing amount
	Ceiling   int64 // proxy ceiling, or Amount for non-proxy chains
	PlacedAt  time.Time
}

// escalation is an automatic bid the engine must append to the ledger
// on behalf of Root's chain.
type escalation struct {
	Root   *competitor
	Amount int64
}

type outcome struct {
	Winner      *competitor
	Escalations []escalation
}

// buildCompetitors folds non-terminal ledger rows into chains.
// Escalation rows whose root is not in the set (terminal) are ignored;
// the engine terminates whole chains, so that only guards bad data.
func buildCompetitors(bids []models.Bid) []*competitor {
	chains := make(map[uuid.UUID]*competitor, len(bids))
	for i := range bids {
		b := &bids[i]
		if b.SourceBidID != nil {
			continue
		}
		chains[b.ID] = &competitor{
			RootBidID: b.ID,
			TopBidID:  b.ID,
			UserID:    b.UserID,
			Amount:    b.Amount,
			Ceiling:   b.Ceiling(),
			PlacedAt:  b.PlacedAt,
		}
	}
	for i := range bids {
		b := &bids[i]
		if b.SourceBidID == nil {
			continue
		}
		chain, ok := chains[*b.SourceBidID]
		if !ok {
			continue
		}
		if b.Amount > chain.Amount {
			chain.Amount = b.Amount
			chain.TopBidID = b.ID
		}
	}
	out := make([]*competitor, 0, len(chains))
	for _, c := range chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

// resolveCompetition converges the set of chains to a single winner.
//
// The standing high bid (highest amount, earliest placement on ties)
// holds the lead. A challenger retakes it only when it can
// definitively win: its ceiling strictly exceeds the current winner's
// ceiling, or ties it with an earlier placement. The retake appends
// one escalation at min(challenger ceiling, winner ceiling +
// increment). A chain that cannot ultimately win never escalates, so
// a doomed challenger does not run the winner's visible price up.
//
// The loop is bounded by the number of chains: every retake moves the
// lead to a strictly better (ceiling, placement) pair.
func resolveCompetition(comps []*competitor, increment int64) outcome {
	if len(comps) == 0 {
		return outcome{}
	}

	winner := standingHigh(comps)

	var escalations []escalation
	for range comps {
		ch := bestChallenger(comps, winner)
		if ch == nil {
			break
		}
		amount := min(ch.Ceiling, winner.Ceiling+increment)
		if amount > ch.Amount {
			escalations = append(escalations, escalation{Root: ch, Amount: amount})
			ch.Amount = amount
		}
		winner = ch
	}
	return outcome{Winner: winner, Escalations: escalations}
}

// standingHigh is the chain currently holding the highest amount,
// earliest placement winning ties. Callers must pass the slice in
// placement order (buildCompetitors does).
func standingHigh(comps []*competitor) *competitor {
	if len(comps) == 0 {
		return nil
	}
	high := comps[0]
	for _, c := range comps[1:] {
		if c.Amount > high.Amount {
			high = c
		}
	}
	return high
}

// bestChallenger picks the chain best placed to retake the lead, or
// nil when none can. Chains owned by the winner's user never challenge
// their own lead.
func bestChallenger(comps []*competitor, winner *competitor) *competitor {
	var best *competitor
	for _, c := range comps {
		if c == winner || c.UserID == winner.UserID {
			continue
		}
		if c.Ceiling < winner.Ceiling {
			continue
		}
		if c.Ceiling == winner.Ceiling && !c.PlacedAt.Before(winner.PlacedAt) {
			continue
		}
		if best == nil || c.Ceiling > best.Ceiling ||
			(c.Ceiling == best.Ceiling && c.PlacedAt.Before(best.PlacedAt)) {
			best = c
		}
	}
	return best
}
