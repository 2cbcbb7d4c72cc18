package services

import "github.com/cppla/checkinhub/config"

// StreakSnapshot is everything the streak rules need about one user, read
// once from the store so evaluation itself does no I/O.
type StreakSnapshot struct {
	Today          int64
	LastCheckinDay *int64
	CurrentStreak  int
	CheckedToday   bool
	// AwardedTiers holds the bonus thresholds already paid out within the
	// current consecutive run, so holding at a plateau never double-awards.
	AwardedTiers []int
}

// StreakEvaluation is the outcome of applying the streak rules to a snapshot.
type StreakEvaluation struct {
	EligibleToday          bool
	StreakIfCheckedInToday int
	// Bonus is the tier newly crossed by checking in today, nil when none.
	Bonus *config.StreakTier
}

// EvaluateStreakRules applies the streak and bonus-tier rules. Pure function:
// deterministic, no I/O. Tiers must be ascending by Days.
//
// A last check-in exactly one day ago extends the streak; a gap of more than
// one day (unless bridged by makeup days, which the snapshot reflects via
// LastCheckinDay) resets it to 1.
func EvaluateStreakRules(tiers []config.StreakTier, snap StreakSnapshot) StreakEvaluation {
	if snap.CheckedToday || (snap.LastCheckinDay != nil && *snap.LastCheckinDay == snap.Today) {
		return StreakEvaluation{
			EligibleToday:          false,
			StreakIfCheckedInToday: snap.CurrentStreak,
		}
	}

	streak := 1
	extends := snap.LastCheckinDay != nil && *snap.LastCheckinDay == snap.Today-1
	if extends {
		streak = snap.CurrentStreak + 1
	}

	eval := StreakEvaluation{
		EligibleToday:          true,
		StreakIfCheckedInToday: streak,
	}

	// Highest threshold reached by the resulting streak that has not been
	// awarded within this run: award once per crossing. A reset starts a new
	// run, so prior awards don't count against it.
	awarded := make(map[int]bool, len(snap.AwardedTiers))
	if extends {
		for _, t := range snap.AwardedTiers {
			awarded[t] = true
		}
	}
	for i := range tiers {
		tier := tiers[i]
		if tier.Days > streak {
			break
		}
		if !awarded[tier.Days] {
			eval.Bonus = &tier
		}
	}
	return eval
}
