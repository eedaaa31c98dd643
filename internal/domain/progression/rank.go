package progression

import (
	"fmt"
	"strings"
)

// DefaultBandWidth is the number of levels covered by each non-top tier.
const DefaultBandWidth = 5

// Tier is one named rank.
type Tier struct {
	Name string `json:"name"`
	// PromotionCoins is paid once when a user enters this tier.
	PromotionCoins int64 `json:"promotion_coins"`
}

// DefaultTiers returns the five stock tiers, lowest first.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "Ajaw", PromotionCoins: 0},
		{Name: "Nacom", PromotionCoins: 100},
		{Name: "Ah K'in", PromotionCoins: 250},
		{Name: "Halach Uinic", PromotionCoins: 500},
		{Name: "K'uk'ulkan", PromotionCoins: 1000},
	}
}

// Rank is the resolved tier for a level.
type Rank struct {
	TierIndex int
	Progress  float64
	// Change is nil when the tier did not move.
	Change *TierChange
	// BonusCoins sums the promotion coins of every tier entered.
	BonusCoins int64
}

// Ranks maps levels onto an ordered tier table. Tier i covers levels
// [i*width, (i+1)*width); the last tier is open-ended.
type Ranks struct {
	tiers []Tier
	width int
}

// NewRanks validates the table and band width.
func NewRanks(tiers []Tier, bandWidth int) (*Ranks, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: at least one tier is required", ErrInvalidTiers)
	}
	if bandWidth < 1 {
		return nil, fmt.Errorf("%w: band width must be positive, got %d", ErrInvalidTiers, bandWidth)
	}
	for i, t := range tiers {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("%w: tier %d has no name", ErrInvalidTiers, i)
		}
		if t.PromotionCoins < 0 {
			return nil, fmt.Errorf("%w: tier %q has negative promotion coins", ErrInvalidTiers, t.Name)
		}
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &Ranks{tiers: cp, width: bandWidth}, nil
}

// DefaultRanks returns the stock tiers with the default band width.
func DefaultRanks() *Ranks {
	r, _ := NewRanks(DefaultTiers(), DefaultBandWidth)
	return r
}

// Tiers returns a copy of the tier table.
func (r *Ranks) Tiers() []Tier {
	cp := make([]Tier, len(r.tiers))
	copy(cp, r.tiers)
	return cp
}

// BandWidth returns the number of levels per tier.
func (r *Ranks) BandWidth() int { return r.width }

// Len returns the number of tiers.
func (r *Ranks) Len() int { return len(r.tiers) }

// Tier returns the tier at index i, clamped to the table.
func (r *Ranks) Tier(i int) Tier {
	return r.tiers[r.clamp(i)]
}

// Band returns the first level of tier i and the first level past it.
func (r *Ranks) Band(i int) (start, end int) {
	i = r.clamp(i)
	return i * r.width, (i + 1) * r.width
}

// TierFor returns the index of the tier containing level.
func (r *Ranks) TierFor(level int) int {
	if level < 0 {
		return 0
	}
	return r.clamp(level / r.width)
}

// IsMax reports whether i is the top tier.
func (r *Ranks) IsMax(i int) bool { return i >= len(r.tiers)-1 }

// Resolve computes the tier for level given the tier currently held.
// A level past the current band promotes, possibly across several tiers,
// and pays each entered tier's bonus. A level below the band demotes with
// Corrected set and pays nothing.
func (r *Ranks) Resolve(level, currentTier int) Rank {
	target := r.TierFor(level)
	out := Rank{TierIndex: target, Progress: r.progress(level, target)}

	switch {
	case target > currentTier:
		from := currentTier
		if from < 0 {
			from = 0
		}
		// only tiers above the one held pay out
		for i := from + 1; i <= target; i++ {
			out.BonusCoins = addSat(out.BonusCoins, r.tiers[i].PromotionCoins)
		}
		out.Change = &TierChange{From: currentTier, To: target}
	case target < currentTier:
		out.Change = &TierChange{From: currentTier, To: target, Corrected: true}
	}
	return out
}

func (r *Ranks) progress(level, tier int) float64 {
	if r.IsMax(tier) {
		return 100
	}
	start, end := r.Band(tier)
	p := float64((level-start)*100) / float64(end-start)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func (r *Ranks) clamp(i int) int {
	switch {
	case i < 0:
		return 0
	case i >= len(r.tiers):
		return len(r.tiers) - 1
	}
	return i
}
