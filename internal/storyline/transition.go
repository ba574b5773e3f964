package storyline

import (
	"context"
	"fmt"
	"log"
	"time"
)

// TransitionKind classifies the engine's decision for one storyline and day.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionChance
	TransitionForced
	TransitionAutoResolve
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionNone:
		return "none"
	case TransitionChance:
		return "chance"
	case TransitionForced:
		return "forced"
	case TransitionAutoResolve:
		return "auto_resolve"
	}
	return fmt.Sprintf("TransitionKind(%d)", int(k))
}

// TransitionDecision is the pure result of evaluating the phase machine.
type TransitionDecision struct {
	Kind        TransitionKind
	From        Phase
	To          Phase
	DaysInPhase int
}

func (d TransitionDecision) Fires() bool { return d.Kind != TransitionNone }

// DecideTransition evaluates the outgoing edge of phase for a storyline
// that has spent daysInPhase calendar days in it. u is a uniform draw in
// [0,1) consumed only inside the probabilistic window.
func (r Rules) DecideTransition(phase Phase, daysInPhase int, u float64) TransitionDecision {
	d := TransitionDecision{Kind: TransitionNone, From: phase, To: phase, DaysInPhase: daysInPhase}

	switch phase {
	case PhaseClimax:
		if r.ClimaxStallDays > 0 && daysInPhase >= r.ClimaxStallDays {
			d.Kind = TransitionAutoResolve
			d.To = PhaseResolving
			return d
		}
	case PhaseResolved, PhaseReflecting:
		return d
	case PhaseAnnounced, PhaseHoneymoon, PhaseReality, PhaseActive, PhaseResolving:
	}

	rule, ok := r.RuleFor(phase)
	if !ok {
		return d
	}
	switch {
	case daysInPhase < rule.MinDays:
		return d
	case daysInPhase >= rule.MaxDays:
		d.Kind = TransitionForced
	case u < rule.Probability:
		d.Kind = TransitionChance
	default:
		return d
	}
	d.To = rule.To
	return d
}

// TransitionEvent records an applied transition.
type TransitionEvent struct {
	StorylineID string
	Title       string
	Day         string
	Decision    TransitionDecision
	Outcome     Outcome
}

// advance evaluates and applies the phase machine for one storyline on day.
// Edges into resolving require an outcome, so they go through closure.
func (e *Engine) advance(ctx context.Context, st *Storyline, day time.Time) (*TransitionEvent, error) {
	dayKey := e.cal.Key(day)
	daysInPhase := e.cal.DaysBetween(st.PhaseStartedAt, day)
	u := e.randFor(st.ID, dayKey, "transition").Float64()

	decision := e.rules.DecideTransition(st.Phase, daysInPhase, u)
	if !decision.Fires() {
		return nil, nil
	}
	ev := &TransitionEvent{StorylineID: st.ID, Title: st.Title, Day: dayKey, Decision: decision}

	if decision.To == PhaseResolving && !st.Outcome.Terminal() {
		outcome := e.rules.drawOutcome(e.randFor(st.ID, dayKey, "outcome").Float64())
		log.Printf("[storyline] %s %q climax->resolving (%s, %d days) outcome=%s",
			decision.Kind, st.Title, dayKey, daysInPhase, outcome)
		if _, err := e.resolve(ctx, st, outcome, day); err != nil {
			return nil, err
		}
		ev.Outcome = outcome
		if fresh, err := e.store.GetStoryline(ctx, st.ID); err == nil {
			*st = *fresh
		}
		return ev, nil
	}

	to := decision.To
	updated, err := e.store.UpdateStoryline(ctx, st.ID, StorylinePatch{Phase: &to, At: day})
	if err != nil {
		return nil, fmt.Errorf("apply transition %s->%s: %w", decision.From, to, err)
	}
	log.Printf("[storyline] %s %q %s->%s (%s, %d days)",
		decision.Kind, st.Title, decision.From, to, dayKey, daysInPhase)
	*st = *updated
	return ev, nil
}
