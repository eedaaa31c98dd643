package progression

// Grant summarises what a reward did to a state.
type Grant struct {
	XP           int64
	Coins        int64 // score coins plus level and tier bonuses
	LevelsGained int
	TierChange   *TierChange
}

// Rules couples the ledger with the rank table. Every state change goes
// through Award or Realign so level and tier never get out of step.
type Rules struct {
	Ledger *Ledger
	Ranks  *Ranks
}

// DefaultRules uses the default curve and tiers with no per-level coins.
func DefaultRules() Rules {
	l, _ := NewLedger(DefaultCurve())
	return Rules{Ledger: l, Ranks: DefaultRanks()}
}

// Award applies xp and coins to s, cascades level-ups and re-resolves the
// tier. Version and UpdatedAt are left for the caller to stamp.
func (r Rules) Award(s State, xp, coins int64) (State, Grant) {
	if coins < 0 {
		coins = 0
	}
	up := r.Ledger.ApplyXP(s, xp)
	next := up.State

	rank := r.Ranks.Resolve(next.Level, next.TierIndex)
	next.TierIndex = rank.TierIndex
	next.TierProgress = rank.Progress

	total := addSat(coins, up.BonusCoins)
	total = addSat(total, rank.BonusCoins)
	next.Coins = addSat(next.Coins, addSat(coins, rank.BonusCoins))

	g := Grant{
		XP:           xp,
		Coins:        total,
		LevelsGained: up.LevelsGained,
		TierChange:   rank.Change,
	}
	if g.XP < 0 {
		g.XP = 0
	}
	return next, g
}

// Realign recomputes tier and progress from the level alone. It never pays
// bonuses; a promotion found here still reports the change.
func (r Rules) Realign(s State) (State, *TierChange) {
	if s.Level < 1 {
		s.Level = 1
	}
	rank := r.Ranks.Resolve(s.Level, s.TierIndex)
	s.TierIndex = rank.TierIndex
	s.TierProgress = rank.Progress
	return s, rank.Change
}
