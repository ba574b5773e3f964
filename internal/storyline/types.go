package storyline

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a lifecycle stage. Values are ordered; see phaseOrder.
type Phase string

const (
	PhaseAnnounced  Phase = "announced"
	PhaseHoneymoon  Phase = "honeymoon"
	PhaseReality    Phase = "reality"
	PhaseActive     Phase = "active"
	PhaseClimax     Phase = "climax"
	PhaseResolving  Phase = "resolving"
	PhaseResolved   Phase = "resolved"
	PhaseReflecting Phase = "reflecting"
)

var phaseOrder = []Phase{
	PhaseAnnounced,
	PhaseHoneymoon,
	PhaseReality,
	PhaseActive,
	PhaseClimax,
	PhaseResolving,
	PhaseResolved,
	PhaseReflecting,
}

// Phases returns all phases in lifecycle order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Index returns the position of p in lifecycle order, or -1.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

func (p Phase) Valid() bool { return p.Index() >= 0 }

// Terminal reports whether the transition engine stops at p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseResolved, PhaseReflecting:
		return true
	case PhaseAnnounced, PhaseHoneymoon, PhaseReality, PhaseActive, PhaseClimax, PhaseResolving:
		return false
	}
	return false
}

// Stressful phases drain energy in the mood calculator.
func (p Phase) Stressful() bool {
	switch p {
	case PhaseReality, PhaseActive, PhaseClimax:
		return true
	case PhaseAnnounced, PhaseHoneymoon, PhaseResolving, PhaseResolved, PhaseReflecting:
		return false
	}
	return false
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Outcome is how a storyline ended. The zero value means no outcome yet.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeAbandoned   Outcome = "abandoned"
	OutcomeTransformed Outcome = "transformed"
	OutcomeOngoing     Outcome = "ongoing"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeAbandoned, OutcomeTransformed, OutcomeOngoing:
		return true
	case OutcomeNone:
		return false
	}
	return false
}

// Terminal outcomes close a storyline and may enter the closure path.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeAbandoned, OutcomeTransformed:
		return true
	case OutcomeNone, OutcomeOngoing:
		return false
	}
	return false
}

// YieldsLesson reports whether closure extracts a lesson fact. Transformed
// storylines are still being processed, so they do not.
func (o Outcome) YieldsLesson() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeAbandoned:
		return true
	case OutcomeTransformed, OutcomeOngoing, OutcomeNone:
		return false
	}
	return false
}

func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown outcome %q", s)
	}
	return o, nil
}

type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryFamily   Category = "family"
	CategorySocial   Category = "social"
	CategoryCreative Category = "creative"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryWork, CategoryPersonal, CategoryFamily, CategorySocial, CategoryCreative:
		return true
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

type NarrativeType string

const (
	NarrativeProject      NarrativeType = "project"
	NarrativeOpportunity  NarrativeType = "opportunity"
	NarrativeChallenge    NarrativeType = "challenge"
	NarrativeRelationship NarrativeType = "relationship"
	NarrativeGoal         NarrativeType = "goal"
)

func (n NarrativeType) Valid() bool {
	switch n {
	case NarrativeProject, NarrativeOpportunity, NarrativeChallenge, NarrativeRelationship, NarrativeGoal:
		return true
	}
	return false
}

func ParseNarrativeType(s string) (NarrativeType, error) {
	n := NarrativeType(strings.ToLower(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", fmt.Errorf("unknown narrative type %q", s)
	}
	return n, nil
}

// UpdateType labels a narrative beat.
type UpdateType string

const (
	UpdateInitialReaction     UpdateType = "initial_reaction"
	UpdateProcessing          UpdateType = "processing"
	UpdateExcitement          UpdateType = "excitement"
	UpdatePlanning            UpdateType = "planning"
	UpdateAnticipation        UpdateType = "anticipation"
	UpdateRealityCheck        UpdateType = "reality_check"
	UpdateChallenge           UpdateType = "challenge"
	UpdateSmallWin            UpdateType = "small_win"
	UpdateProgress            UpdateType = "progress"
	UpdateSetback             UpdateType = "setback"
	UpdateMilestone           UpdateType = "milestone"
	UpdateNervousness         UpdateType = "nervousness"
	UpdateClimaxMoment        UpdateType = "climax_moment"
	UpdateOutcomeReaction     UpdateType = "outcome_reaction"
	UpdateGratitude           UpdateType = "gratitude"
	UpdateReflection          UpdateType = "reflection"
	UpdateLessonLearned       UpdateType = "lesson_learned"
	UpdateEmotionalProcessing UpdateType = "emotional_processing"
	UpdateLettingGo           UpdateType = "letting_go"
	UpdateNewDirection        UpdateType = "new_direction"
)

// Storyline is one ongoing life thread.
type Storyline struct {
	ID                   string
	Title                string
	Category             Category
	NarrativeType        NarrativeType
	Phase                Phase
	PhaseStartedAt       time.Time
	CurrentEmotionalTone string
	EmotionalIntensity   float64

	Outcome            Outcome
	OutcomeDescription string
	ResolutionEmotion  string

	TimesMentioned  int
	LastMentionedAt *time.Time
	ShouldMentionBy *time.Time

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time

	InitialAnnouncement string
	Stakes              string
	UserInvolvement     string
}

// Active reports whether the storyline holds the active slot.
func (s Storyline) Active() bool { return s.Outcome == OutcomeNone }

// Update is one narrative beat belonging to a storyline.
type Update struct {
	ID             string
	StorylineID    string
	UpdateType     UpdateType
	Content        string
	EmotionalTone  string
	CreatedAt      time.Time
	ShouldRevealAt *time.Time
	Mentioned      bool
	MentionedAt    *time.Time
}

// Revealed reports whether the update may be surfaced at now.
func (u Update) Revealed(now time.Time) bool {
	return u.ShouldRevealAt == nil || !u.ShouldRevealAt.After(now)
}

// NewStoryline is the input to creation.
type NewStoryline struct {
	Title               string
	Category            Category
	NarrativeType       NarrativeType
	EmotionalTone       string
	EmotionalIntensity  float64
	InitialAnnouncement string
	Stakes              string
	UserInvolvement     string
	ShouldMentionBy     *time.Time
}

// StorylinePatch carries a partial update; nil fields are left untouched.
type StorylinePatch struct {
	Title                *string
	Phase                *Phase
	CurrentEmotionalTone *string
	EmotionalIntensity   *float64
	Outcome              *Outcome
	OutcomeDescription   *string
	ResolutionEmotion    *string
	ShouldMentionBy      *time.Time
	Stakes               *string
	UserInvolvement      *string

	// At overrides the store clock for phaseStartedAt/resolvedAt stamps.
	At time.Time
}

func (p StorylinePatch) empty() bool {
	return p.Title == nil && p.Phase == nil && p.CurrentEmotionalTone == nil &&
		p.EmotionalIntensity == nil && p.Outcome == nil && p.OutcomeDescription == nil &&
		p.ResolutionEmotion == nil && p.ShouldMentionBy == nil && p.Stakes == nil &&
		p.UserInvolvement == nil
}

// NewUpdate is the input to AppendUpdate.
type NewUpdate struct {
	UpdateType     UpdateType
	Content        string
	EmotionalTone  string
	ShouldRevealAt *time.Time
}

// CreationAttempt is one row of the creation audit log.
type CreationAttempt struct {
	ID        int64
	Title     string
	Category  Category
	Result    string
	Reason    string
	Detail    string
	CreatedAt time.Time
}

// Fact is a durable character fact.
type Fact struct {
	ID        int64
	Category  string
	Key       string
	Value     string
	CreatedAt time.Time
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	Active          int
	InFlight        int
	Resolved        int
	Updates         int
	PendingReveals  int
	Facts           int
	CreationBlocked int
	LastProcessedAt *time.Time
}

func clampIntensity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
