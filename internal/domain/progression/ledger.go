package progression

import (
	"fmt"
	"math"
)

// Default curve parameters.
const (
	DefaultBaseXP = 100
	DefaultGrowth = 1.1
)

// thresholds above this are clamped; no reachable level gets there.
const maxThreshold = int64(1) << 62

// Curve defines XPRequiredForLevel(L) = floor(BaseXP * Growth^(L-1)).
type Curve struct {
	BaseXP int64   `json:"base_xp"`
	Growth float64 `json:"growth"`
}

// DefaultCurve returns the 100 * 1.1^(L-1) curve.
func DefaultCurve() Curve {
	return Curve{BaseXP: DefaultBaseXP, Growth: DefaultGrowth}
}

// Validate checks that consecutive floored thresholds differ by at least one.
func (c Curve) Validate() error {
	switch {
	case c.BaseXP < 1:
		return fmt.Errorf("%w: base xp must be at least 1, got %d", ErrInvalidCurve, c.BaseXP)
	case math.IsNaN(c.Growth) || math.IsInf(c.Growth, 0) || c.Growth <= 1:
		return fmt.Errorf("%w: growth must be greater than 1, got %v", ErrInvalidCurve, c.Growth)
	case float64(c.BaseXP)*(c.Growth-1) < 1:
		return fmt.Errorf("%w: base xp %d with growth %v yields repeated thresholds", ErrInvalidCurve, c.BaseXP, c.Growth)
	}
	return nil
}

// XPRequiredForLevel returns the XP needed to advance past level.
// Levels below 1 are treated as level 1.
func (c Curve) XPRequiredForLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	v := float64(c.BaseXP) * math.Pow(c.Growth, float64(level-1))
	if math.IsInf(v, 0) || math.IsNaN(v) || v >= float64(maxThreshold) {
		return maxThreshold
	}
	return int64(math.Floor(v))
}

// LevelUp is the result of Ledger.ApplyXP.
type LevelUp struct {
	State        State
	LevelsGained int
	BonusCoins   int64
}

// Ledger applies XP grants and cascades level-ups.
type Ledger struct {
	curve        Curve
	levelUpCoins int64
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLevelUpCoins pays coins once for every level crossed.
func WithLevelUpCoins(coins int64) LedgerOption {
	return func(l *Ledger) {
		if coins >= 0 {
			l.levelUpCoins = coins
		}
	}
}

// NewLedger builds a ledger over curve.
func NewLedger(curve Curve, opts ...LedgerOption) (*Ledger, error) {
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{curve: curve}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Curve returns the ledger's XP curve.
func (l *Ledger) Curve() Curve { return l.curve }

// ApplyXP adds xp to s and carries the surplus through as many levels as it
// covers. Negative grants count as zero, and a drifted state (level below 1
// or negative XP) is clamped before the cascade.
func (l *Ledger) ApplyXP(s State, xp int64) LevelUp {
	if s.Level < 1 {
		s.Level = 1
	}
	if s.TotalXP < 0 {
		s.TotalXP = 0
	}
	if xp < 0 {
		xp = 0
	}
	s.TotalXP = addSat(s.TotalXP, xp)

	out := LevelUp{}
	for {
		need := l.curve.XPRequiredForLevel(s.Level)
		if s.TotalXP < need {
			break
		}
		s.TotalXP -= need
		s.Level++
		out.LevelsGained++
		out.BonusCoins = addSat(out.BonusCoins, l.levelUpCoins)
	}
	s.Coins = addSat(s.Coins, out.BonusCoins)
	out.State = s
	return out
}

// XPToNextLevel returns the size of the current level, i.e. the XP that
// TotalXP has to reach before s levels up.
func (l *Ledger) XPToNextLevel(s State) int64 {
	return l.curve.XPRequiredForLevel(s.Level)
}

// XPRemaining returns the XP still missing before s levels up.
func (l *Ledger) XPRemaining(s State) int64 {
	left := l.XPToNextLevel(s) - s.TotalXP
	if left < 0 {
		return 0
	}
	return left
}

// LifetimeXP returns all XP s has earned: every threshold below its level
// plus the XP inside the current one.
func (l *Ledger) LifetimeXP(s State) int64 {
	total := s.TotalXP
	if total < 0 {
		total = 0
	}
	for level := 1; level < s.Level; level++ {
		total = addSat(total, l.curve.XPRequiredForLevel(level))
	}
	return total
}
