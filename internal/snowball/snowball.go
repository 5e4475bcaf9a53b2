// Package snowball implements the bankroll sizing state machine.
//
// The rule is variance-dampened compounding. In the growth phase, a
// configured fraction of each profitable cycle's profit is reinvested
// into the clip (the per-bet stake) and the rest is pocketed; losing
// cycles shrink the clip back toward the starting size but never below
// it. Once the clip reaches its ceiling on a profitable cycle, the phase
// flips to harvest and every further profit is pocketed in full. Harvest
// is one-directional: the machine never returns to growth.
package snowball

import (
	"github.com/shopspring/decimal"

	"vig/internal/config"
	"vig/pkg/types"
)

// Snowball tracks clip size and phase across cycles. It is owned
// exclusively by the orchestrator goroutine and checkpointed to the
// store after every cycle via Snapshot.
type Snowball struct {
	cfg      config.SnowballConfig
	clip     float64
	phase    types.Phase
	pocketed float64 // cumulative pocketed total
	cycles   int
}

// CycleOutcome reports what ProcessCycle did with a cycle's profit.
type CycleOutcome struct {
	Pocketed float64 // profit banked this cycle, not reinvested
	NewClip  float64
	Phase    types.Phase
	HitMax   bool // true when this cycle drove the clip to its ceiling
}

// New creates a snowball in the growth phase at the starting clip.
func New(cfg config.SnowballConfig) *Snowball {
	if cfg.MaxClip < cfg.StartingClip {
		cfg.MaxClip = cfg.StartingClip
	}
	return &Snowball{
		cfg:   cfg,
		clip:  cfg.StartingClip,
		phase: types.PhaseGrowth,
	}
}

// SizeForMarket returns the stake for one market: the current clip,
// capped by the market's volume-derived exposure limit. A cap of zero or
// below means no volume data and no cap.
func (s *Snowball) SizeForMarket(volumeCap float64) float64 {
	if volumeCap > 0 && volumeCap < s.clip {
		return volumeCap
	}
	return s.clip
}

// ProcessCycle updates state from one cycle's net profit and bet count.
// Clip stays within [starting_clip, max_clip] across any call sequence.
func (s *Snowball) ProcessCycle(profit float64, bets int) CycleOutcome {
	s.cycles++

	if bets == 0 || profit == 0 {
		return s.outcome(0, false)
	}

	if profit < 0 {
		if s.phase == types.PhaseGrowth {
			s.clip = roundCents(s.clip - (-profit)/float64(bets))
			if s.clip < s.cfg.StartingClip {
				s.clip = s.cfg.StartingClip
			}
		}
		return s.outcome(0, false)
	}

	// Profitable cycle. In harvest, or once the clip has already reached
	// its ceiling, all profit is banked.
	if s.phase == types.PhaseHarvest || s.clip >= s.cfg.MaxClip {
		hitMax := s.phase == types.PhaseGrowth
		s.phase = types.PhaseHarvest
		s.pocketed += profit
		return s.outcome(profit, hitMax)
	}

	reinvested := profit * s.cfg.ReinvestFraction
	pocketed := profit - reinvested
	s.clip = roundCents(s.clip + reinvested/float64(bets))

	hitMax := false
	if s.clip >= s.cfg.MaxClip {
		s.clip = s.cfg.MaxClip
		s.phase = types.PhaseHarvest
		hitMax = true
	}

	s.pocketed += pocketed
	return s.outcome(pocketed, hitMax)
}

// Snapshot returns the current state for checkpointing.
func (s *Snowball) Snapshot() types.SnowballState {
	return types.SnowballState{
		ClipSize:        s.clip,
		Phase:           s.phase,
		TotalPocketed:   s.pocketed,
		CyclesCompleted: s.cycles,
	}
}

// Restore replaces the state, clamping the clip into its legal range.
// Called once at process start with the state reconstructed from the
// most recent cycle record.
func (s *Snowball) Restore(st types.SnowballState) {
	s.clip = st.ClipSize
	if s.clip < s.cfg.StartingClip {
		s.clip = s.cfg.StartingClip
	}
	if s.clip > s.cfg.MaxClip {
		s.clip = s.cfg.MaxClip
	}
	if st.Phase == types.PhaseHarvest {
		s.phase = types.PhaseHarvest
	}
	s.pocketed = st.TotalPocketed
	s.cycles = st.CyclesCompleted
}

func (s *Snowball) outcome(pocketed float64, hitMax bool) CycleOutcome {
	return CycleOutcome{
		Pocketed: pocketed,
		NewClip:  s.clip,
		Phase:    s.phase,
		HitMax:   hitMax,
	}
}

// roundCents rounds a USD amount to whole cents.
func roundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
