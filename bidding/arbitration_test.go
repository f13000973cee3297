package bidding

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gavel/models"
)

func chain(userID uuid.UUID, amount, ceiling int64, placedAt time.Time) *competitor {
	return &competitor{
		RootBidID: uuid.New(),
		TopBidID:  uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Ceiling:   ceiling,
		PlacedAt:  placedAt,
	}
}

func TestBuildCompetitors(t *testing.T) {
	base := time.Now()
	userA, userB := uuid.New(), uuid.New()
	rootA := models.Bid{
		ID:       uuid.New(),
		UserID:   userA,
		Amount:   100,
		MaxBid:   lo.ToPtr(int64(130)),
		Type:     models.BidTypeProxyAuto,
		PlacedAt: base,
	}
	escalationA := models.Bid{
		ID:          uuid.New(),
		UserID:      userA,
		Amount:      126,
		MaxBid:      lo.ToPtr(int64(130)),
		Type:        models.BidTypeProxyAuto,
		SourceBidID: &rootA.ID,
		PlacedAt:    base.Add(2 * time.Second),
	}
	rootB := models.Bid{
		ID:       uuid.New(),
		UserID:   userB,
		Amount:   110,
		Type:     models.BidTypeRegular,
		PlacedAt: base.Add(time.Second),
	}

	t.Run("folds escalations into their root chain", func(t *testing.T) {
		comps := buildCompetitors([]models.Bid{rootA, rootB, escalationA})
		require.Len(t, comps, 2)
		// placement order of the roots
		assert.Equal(t, rootA.ID, comps[0].RootBidID)
		assert.Equal(t, rootB.ID, comps[1].RootBidID)
		// the chain stands at its highest escalation
		assert.Equal(t, int64(126), comps[0].Amount)
		assert.Equal(t, escalationA.ID, comps[0].TopBidID)
		assert.Equal(t, int64(130), comps[0].Ceiling)
		assert.Equal(t, rootA.PlacedAt, comps[0].PlacedAt)
	})

	t.Run("ignores escalations without a root in the set", func(t *testing.T) {
		comps := buildCompetitors([]models.Bid{rootB, escalationA})
		require.Len(t, comps, 1)
		assert.Equal(t, rootB.ID, comps[0].RootBidID)
	})

	t.Run("empty ledger", func(t *testing.T) {
		assert.Empty(t, buildCompetitors(nil))
	})
}

func TestStandingHigh(t *testing.T) {
	base := time.Now()

	t.Run("highest amount wins", func(t *testing.T) {
		a := chain(uuid.New(), 100, 100, base)
		b := chain(uuid.New(), 110, 110, base.Add(time.Second))
		assert.Same(t, b, standingHigh([]*competitor{a, b}))
	})

	t.Run("earliest placement wins ties", func(t *testing.T) {
		a := chain(uuid.New(), 100, 100, base)
		b := chain(uuid.New(), 100, 100, base.Add(time.Second))
		assert.Same(t, a, standingHigh([]*competitor{a, b}))
	})

	t.Run("empty set", func(t *testing.T) {
		assert.Nil(t, standingHigh(nil))
	})
}

func TestResolveCompetition(t *testing.T) {
	base := time.Now()

	t.Run("empty set", func(t *testing.T) {
		out := resolveCompetition(nil, 5)
		assert.Nil(t, out.Winner)
		assert.Empty(t, out.Escalations)
	})

	t.Run("single chain stands at its amount", func(t *testing.T) {
		a := chain(uuid.New(), 100, 130, base)
		out := resolveCompetition([]*competitor{a}, 5)
		assert.Same(t, a, out.Winner)
		assert.Empty(t, out.Escalations)
		assert.Equal(t, int64(100), a.Amount)
	})

	t.Run("doomed challenger never escalates", func(t *testing.T) {
		// standing proxy ceiling 130 is overtaken by a fresh proxy with
		// ceiling 160: the newcomer stands at its entered amount and the
		// loser does not run the price up
		a := chain(uuid.New(), 100, 130, base)
		b := chain(uuid.New(), 110, 160, base.Add(time.Second))
		out := resolveCompetition([]*competitor{a, b}, 5)
		assert.Same(t, b, out.Winner)
		assert.Empty(t, out.Escalations)
		assert.Equal(t, int64(110), b.Amount)
	})

	t.Run("standing higher proxy retakes at challenger ceiling plus increment", func(t *testing.T) {
		a := chain(uuid.New(), 100, 130, base)
		b := chain(uuid.New(), 105, 125, base.Add(time.Second))
		out := resolveCompetition([]*competitor{a, b}, 1)
		assert.Same(t, a, out.Winner)
		require.Len(t, out.Escalations, 1)
		assert.Same(t, a, out.Escalations[0].Root)
		assert.Equal(t, int64(126), out.Escalations[0].Amount)
		assert.Equal(t, int64(126), a.Amount)
	})

	t.Run("escalation is capped at the winner ceiling", func(t *testing.T) {
		a := chain(uuid.New(), 100, 120, base)
		b := chain(uuid.New(), 118, 118, base.Add(time.Second))
		out := resolveCompetition([]*competitor{a, b}, 5)
		assert.Same(t, a, out.Winner)
		require.Len(t, out.Escalations, 1)
		assert.Equal(t, int64(120), out.Escalations[0].Amount)
	})

	t.Run("equal ceilings go to the earlier chain", func(t *testing.T) {
		a := chain(uuid.New(), 100, 130, base)
		b := chain(uuid.New(), 110, 130, base.Add(time.Second))
		out := resolveCompetition([]*competitor{a, b}, 5)
		assert.Same(t, a, out.Winner)
		require.Len(t, out.Escalations, 1)
		// retake lands at min(130, 130+5)
		assert.Equal(t, int64(130), out.Escalations[0].Amount)
	})

	t.Run("same user never challenges their own lead", func(t *testing.T) {
		userID := uuid.New()
		a := chain(userID, 100, 130, base)
		b := chain(userID, 110, 160, base.Add(time.Second))
		out := resolveCompetition([]*competitor{a, b}, 5)
		assert.Same(t, b, out.Winner)
		assert.Empty(t, out.Escalations)
	})
}
