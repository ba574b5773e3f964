package storyline

import "fmt"

// TransitionRule is one forward edge of the phase machine.
type TransitionRule struct {
	From        Phase
	To          Phase
	MinDays     int
	MaxDays     int
	Probability float64
}

// PhaseProfile holds every per-phase constant the engine consults.
type PhaseProfile struct {
	UpdateIntervalDays int
	AllowedUpdates     []UpdateType
	MoodImpact         float64
	Preoccupation      float64
	Urgency            float64
	Guidance           string
}

// ClosureTemplate is the fixed sequence generated when an outcome is decided.
type ClosureTemplate struct {
	Steps    []UpdateType
	Emotions []string
}

// WeightedOutcome is one entry of the auto-resolve distribution.
type WeightedOutcome struct {
	Outcome Outcome
	Weight  float64
}

// Rules bundles the tables driving the lifecycle. DefaultRules returns the
// production values; tests substitute their own.
type Rules struct {
	Transitions      []TransitionRule
	Profiles         map[Phase]PhaseProfile
	Closures         map[Outcome]ClosureTemplate
	AutoResolve      []WeightedOutcome
	ClimaxStallDays  int
	MaxOverdueChance float64
	BaseDueChance    float64
	OverdueStep      float64
}

func DefaultRules() Rules {
	return Rules{
		Transitions: []TransitionRule{
			{From: PhaseAnnounced, To: PhaseHoneymoon, MinDays: 1, MaxDays: 3, Probability: 0.5},
			{From: PhaseHoneymoon, To: PhaseReality, MinDays: 3, MaxDays: 7, Probability: 0.3},
			{From: PhaseReality, To: PhaseActive, MinDays: 2, MaxDays: 5, Probability: 0.4},
			{From: PhaseActive, To: PhaseClimax, MinDays: 7, MaxDays: 21, Probability: 0.15},
			{From: PhaseClimax, To: PhaseResolving, MinDays: 1, MaxDays: 3, Probability: 0.6},
			{From: PhaseResolving, To: PhaseResolved, MinDays: 2, MaxDays: 5, Probability: 0.5},
		},
		Profiles: map[Phase]PhaseProfile{
			PhaseAnnounced: {
				UpdateIntervalDays: 1,
				AllowedUpdates:     []UpdateType{UpdateInitialReaction, UpdateProcessing},
				MoodImpact:         0.3,
				Preoccupation:      0.6,
				Urgency:            1.0,
				Guidance:           "This just happened. You are still taking it in and want to share the news.",
			},
			PhaseHoneymoon: {
				UpdateIntervalDays: 2,
				AllowedUpdates:     []UpdateType{UpdateExcitement, UpdatePlanning, UpdateAnticipation},
				MoodImpact:         0.4,
				Preoccupation:      0.5,
				Urgency:            0.6,
				Guidance:           "Early excitement. Everything feels possible and you are making plans.",
			},
			PhaseReality: {
				UpdateIntervalDays: 2,
				AllowedUpdates:     []UpdateType{UpdateRealityCheck, UpdateChallenge, UpdateProcessing, UpdateSmallWin},
				MoodImpact:         -0.1,
				Preoccupation:      0.6,
				Urgency:            0.5,
				Guidance:           "The real work is showing up. Some friction, some doubts, still committed.",
			},
			PhaseActive: {
				UpdateIntervalDays: 3,
				AllowedUpdates:     []UpdateType{UpdateProgress, UpdateSetback, UpdateSmallWin, UpdateMilestone, UpdateChallenge},
				MoodImpact:         0.0,
				Preoccupation:      0.5,
				Urgency:            0.4,
				Guidance:           "Steady ongoing effort. It comes up naturally but is not the only thing on your mind.",
			},
			PhaseClimax: {
				UpdateIntervalDays: 1,
				AllowedUpdates:     []UpdateType{UpdateClimaxMoment, UpdateNervousness, UpdateAnticipation},
				MoodImpact:         -0.3,
				Preoccupation:      0.9,
				Urgency:            1.0,
				Guidance:           "The decisive moment is here. It is hard to think about anything else.",
			},
			PhaseResolving: {
				UpdateIntervalDays: 2,
				AllowedUpdates:     []UpdateType{UpdateOutcomeReaction, UpdateProcessing, UpdateReflection},
				MoodImpact:         0.1,
				Preoccupation:      0.6,
				Urgency:            0.9,
				Guidance:           "The outcome is known and you are still reacting to it.",
			},
			PhaseResolved: {
				UpdateIntervalDays: 7,
				AllowedUpdates:     []UpdateType{UpdateReflection, UpdateLessonLearned},
				MoodImpact:         0.2,
				Preoccupation:      0.3,
				Urgency:            0.2,
				Guidance:           "It is over. Mention it only if it fits the conversation.",
			},
			PhaseReflecting: {
				UpdateIntervalDays: 14,
				AllowedUpdates:     []UpdateType{UpdateReflection, UpdateGratitude, UpdateLessonLearned},
				MoodImpact:         0.1,
				Preoccupation:      0.1,
				Urgency:            0.1,
				Guidance:           "A settled memory you occasionally look back on.",
			},
		},
		Closures: map[Outcome]ClosureTemplate{
			OutcomeSuccess: {
				Steps:    []UpdateType{UpdateOutcomeReaction, UpdateGratitude, UpdateReflection, UpdateLessonLearned},
				Emotions: []string{"elated", "proud", "grateful", "relieved", "satisfied"},
			},
			OutcomeFailure: {
				Steps:    []UpdateType{UpdateOutcomeReaction, UpdateEmotionalProcessing, UpdateReflection, UpdateLessonLearned},
				Emotions: []string{"disappointed", "frustrated", "sad", "deflated", "resigned"},
			},
			OutcomeAbandoned: {
				Steps:    []UpdateType{UpdateOutcomeReaction, UpdateLettingGo, UpdateLessonLearned},
				Emotions: []string{"conflicted", "relieved", "wistful", "at peace"},
			},
			OutcomeTransformed: {
				Steps:    []UpdateType{UpdateOutcomeReaction, UpdateProcessing, UpdateNewDirection},
				Emotions: []string{"surprised", "curious", "hopeful", "uncertain"},
			},
		},
		AutoResolve: []WeightedOutcome{
			{Outcome: OutcomeSuccess, Weight: 0.5},
			{Outcome: OutcomeTransformed, Weight: 0.3},
			{Outcome: OutcomeFailure, Weight: 0.15},
			{Outcome: OutcomeAbandoned, Weight: 0.05},
		},
		ClimaxStallDays:  5,
		MaxOverdueChance: 0.9,
		BaseDueChance:    0.3,
		OverdueStep:      0.2,
	}
}

// Validate rejects tables that would break the forward-only machine.
func (r Rules) Validate() error {
	seen := make(map[Phase]bool, len(r.Transitions))
	for _, rule := range r.Transitions {
		if !rule.From.Valid() || !rule.To.Valid() {
			return fmt.Errorf("transition %s->%s: unknown phase", rule.From, rule.To)
		}
		if rule.To.Index() != rule.From.Index()+1 {
			return fmt.Errorf("transition %s->%s: must advance exactly one phase", rule.From, rule.To)
		}
		if rule.From.Terminal() {
			return fmt.Errorf("transition %s->%s: %s is terminal", rule.From, rule.To, rule.From)
		}
		if seen[rule.From] {
			return fmt.Errorf("transition from %s defined twice", rule.From)
		}
		seen[rule.From] = true
		if rule.MinDays < 0 || rule.MaxDays < rule.MinDays {
			return fmt.Errorf("transition %s->%s: invalid day window [%d,%d]", rule.From, rule.To, rule.MinDays, rule.MaxDays)
		}
		if rule.Probability < 0 || rule.Probability > 1 {
			return fmt.Errorf("transition %s->%s: probability %.2f out of range", rule.From, rule.To, rule.Probability)
		}
	}
	for _, p := range phaseOrder {
		profile, ok := r.Profiles[p]
		if !ok {
			return fmt.Errorf("missing profile for phase %s", p)
		}
		if len(profile.AllowedUpdates) == 0 {
			return fmt.Errorf("phase %s allows no update types", p)
		}
	}
	for _, o := range []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeAbandoned, OutcomeTransformed} {
		tpl, ok := r.Closures[o]
		if !ok || len(tpl.Steps) == 0 || len(tpl.Emotions) == 0 {
			return fmt.Errorf("missing closure template for outcome %s", o)
		}
	}
	return nil
}

// RuleFor returns the outgoing edge of phase, if any.
func (r Rules) RuleFor(phase Phase) (TransitionRule, bool) {
	for _, rule := range r.Transitions {
		if rule.From == phase {
			return rule, true
		}
	}
	return TransitionRule{}, false
}

func (r Rules) Profile(phase Phase) PhaseProfile {
	return r.Profiles[phase]
}

// Allows reports whether updateType is whitelisted for phase.
func (r Rules) Allows(phase Phase, updateType UpdateType) bool {
	for _, allowed := range r.Profiles[phase].AllowedUpdates {
		if allowed == updateType {
			return true
		}
	}
	return false
}

// drawOutcome picks from the auto-resolve distribution using u in [0,1).
func (r Rules) drawOutcome(u float64) Outcome {
	total := 0.0
	for _, w := range r.AutoResolve {
		total += w.Weight
	}
	if total <= 0 {
		return OutcomeSuccess
	}
	target := u * total
	acc := 0.0
	for _, w := range r.AutoResolve {
		acc += w.Weight
		if target < acc {
			return w.Outcome
		}
	}
	return r.AutoResolve[len(r.AutoResolve)-1].Outcome
}
