package storyline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrOngoingOutcome = errors.New("ongoing is not a closing outcome")
	ErrInvalidOutcome = errors.New("invalid outcome")
)

const (
	FactCategoryLesson = "lesson"
	lessonKeyPrefix    = "storyline:"
)

// ClosureReport describes what a resolution produced. Fields after Storyline
// are best effort.
type ClosureReport struct {
	Storyline   *Storyline
	Outcome     Outcome
	Description string
	Updates     []Update
	Lesson      string
	Fallbacks   int
}

// Resolve closes a storyline with a terminal outcome at the current time.
func (e *Engine) Resolve(ctx context.Context, storylineID string, outcome Outcome) (*ClosureReport, error) {
	if err := checkClosingOutcome(outcome); err != nil {
		return nil, err
	}
	st, err := e.store.GetStoryline(ctx, storylineID)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, st, outcome, e.now())
}

func checkClosingOutcome(outcome Outcome) error {
	switch outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomeAbandoned, OutcomeTransformed:
		return nil
	case OutcomeOngoing:
		return ErrOngoingOutcome
	case OutcomeNone:
	}
	return fmt.Errorf("%w %q", ErrInvalidOutcome, outcome)
}

// resolve runs the closure sequence for st as of at. Only the first step,
// writing phase and outcome, can fail the call; later steps degrade.
func (e *Engine) resolve(ctx context.Context, st *Storyline, outcome Outcome, at time.Time) (*ClosureReport, error) {
	if err := checkClosingOutcome(outcome); err != nil {
		return nil, err
	}
	if st.Outcome.Terminal() {
		return nil, ErrOutcomeLocked
	}
	tpl, ok := e.rules.Closures[outcome]
	if !ok || len(tpl.Steps) == 0 || len(tpl.Emotions) == 0 {
		return nil, fmt.Errorf("%w %q: no closure template", ErrInvalidOutcome, outcome)
	}

	ctx, span := e.tracer.Start(ctx, "storyline.resolve", trace.WithAttributes(
		attribute.String("storyline.id", st.ID),
		attribute.String("storyline.outcome", string(outcome)),
	))
	defer span.End()

	// Step 1: phase, outcome and the default resolution emotion.
	emotion := tpl.Emotions[0]
	patch := StorylinePatch{Outcome: &outcome, ResolutionEmotion: &emotion, At: at}
	if st.Phase.Index() < PhaseResolving.Index() {
		phase := PhaseResolving
		patch.Phase = &phase
	}
	updated, err := e.store.UpdateStoryline(ctx, st.ID, patch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write outcome")
		return nil, fmt.Errorf("resolve %s: %w", st.ID, err)
	}
	report := &ClosureReport{Storyline: updated, Outcome: outcome}
	log.Printf("[storyline] resolved %q as %s", updated.Title, outcome)

	if e.llm == nil {
		log.Printf("[storyline] warning: no generation client, closure for %q uses templates", updated.Title)
	}

	// Step 2: one-sentence outcome description.
	if e.llm != nil {
		desc, err := e.llm.GenerateSentence(ctx, buildOutcomePrompt(e.opts.Persona, *updated, outcome))
		if err != nil {
			log.Printf("[storyline] warning: outcome description for %q: %v", updated.Title, err)
		} else {
			report.Description = desc
			if s, err := e.store.UpdateStoryline(ctx, updated.ID, StorylinePatch{OutcomeDescription: &desc}); err != nil {
				log.Printf("[storyline] warning: store outcome description for %q: %v", updated.Title, err)
			} else {
				updated = s
				report.Storyline = s
			}
		}
	}

	// Step 3: one update per template step, revealed a day apart.
	dayKey := e.cal.Key(at)
	rng := e.randFor(updated.ID, dayKey, "closure")
	for i, step := range tpl.Steps {
		stepEmotion := tpl.Emotions[int(rng.Float64()*float64(len(tpl.Emotions)))%len(tpl.Emotions)]
		content := ""
		if e.llm != nil {
			prompt := buildClosureStepPrompt(e.opts.Persona, *updated, outcome, report.Description, step, i, len(tpl.Steps), stepEmotion)
			content, err = e.llm.GenerateSentence(ctx, prompt)
			if err != nil {
				log.Printf("[storyline] warning: closure step %d (%s) for %q: %v", i+1, step, updated.Title, err)
				content = ""
			}
		}
		if content == "" {
			content = fallbackClosureContent(*updated, outcome, step, stepEmotion)
			report.Fallbacks++
		}
		reveal := e.cal.AddDays(at, i)
		u, err := e.store.AppendUpdate(ctx, updated.ID, NewUpdate{
			UpdateType:     step,
			Content:        content,
			EmotionalTone:  stepEmotion,
			ShouldRevealAt: &reveal,
		})
		if err != nil {
			log.Printf("[storyline] warning: store closure step %d for %q: %v", i+1, updated.Title, err)
			span.RecordError(err)
			continue
		}
		report.Updates = append(report.Updates, *u)
	}

	// Step 4: lesson fact for outcomes that yield one.
	if outcome.YieldsLesson() && e.llm != nil {
		lesson, err := e.llm.GenerateSentence(ctx, buildLessonPrompt(e.opts.Persona, *updated, outcome, report.Description))
		switch {
		case err != nil:
			log.Printf("[storyline] warning: lesson for %q: %v", updated.Title, err)
		case e.facts == nil:
			log.Printf("[storyline] warning: no fact sink, dropping lesson for %q", updated.Title)
			report.Lesson = lesson
		default:
			report.Lesson = lesson
			if err := e.facts.StoreFact(ctx, FactCategoryLesson, lessonKeyPrefix+updated.ID, lesson); err != nil {
				log.Printf("[storyline] warning: store lesson for %q: %v", updated.Title, err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("closure.updates", len(report.Updates)),
		attribute.Int("closure.fallbacks", report.Fallbacks),
	)
	return report, nil
}
