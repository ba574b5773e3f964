package storyline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResolve_RejectsNonClosingOutcomes(t *testing.T) {
	e, s := newTestEngine(t, newTestClock(day0), nil, nil, Options{})
	st := mustCreate(t, s, "Shop", CategoryWork, 0.5)

	if _, err := e.Resolve(context.Background(), st.ID, OutcomeOngoing); !errors.Is(err, ErrOngoingOutcome) {
		t.Errorf("ongoing err = %v", err)
	}
	if _, err := e.Resolve(context.Background(), st.ID, Outcome("meh")); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("invalid err = %v", err)
	}
	if _, err := e.Resolve(context.Background(), "missing", OutcomeSuccess); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestResolve_FailureRunsFullClosure(t *testing.T) {
	clock := newTestClock(day0)
	llm := &fakeLLM{sentence: "Sometimes the timing just isn't right."}
	facts := &fakeFacts{}
	e, s := newTestEngine(t, clock, llm, facts, Options{})
	ctx := context.Background()

	st := mustCreate(t, s, "Audition for the play", CategoryCreative, 0.9)
	setPhase(t, s, st.ID, PhaseClimax, day0)

	report, err := e.Resolve(ctx, st.ID, OutcomeFailure)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, _ := s.GetStoryline(ctx, st.ID)
	if got.Outcome != OutcomeFailure || got.Phase != PhaseResolving {
		t.Fatalf("storyline = %s/%s, want failure/resolving", got.Outcome, got.Phase)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(day0) {
		t.Errorf("ResolvedAt = %v, want %v", got.ResolvedAt, day0)
	}
	if got.OutcomeDescription != llm.sentence {
		t.Errorf("OutcomeDescription = %q", got.OutcomeDescription)
	}
	if got.ResolutionEmotion != "disappointed" {
		t.Errorf("ResolutionEmotion = %q", got.ResolutionEmotion)
	}

	steps := DefaultRules().Closures[OutcomeFailure].Steps
	updates, _ := s.ListUpdates(ctx, st.ID)
	if len(updates) != len(steps) || len(report.Updates) != len(steps) {
		t.Fatalf("updates = %d (report %d), want %d", len(updates), len(report.Updates), len(steps))
	}
	for i, u := range updates {
		if u.UpdateType != steps[i] {
			t.Errorf("update %d type = %s, want %s", i, u.UpdateType, steps[i])
		}
		want := day0.AddDate(0, 0, i)
		if u.ShouldRevealAt == nil || !u.ShouldRevealAt.Equal(want) {
			t.Errorf("update %d reveal = %v, want %v", i, u.ShouldRevealAt, want)
		}
	}
	if report.Fallbacks != 0 {
		t.Errorf("Fallbacks = %d, want 0", report.Fallbacks)
	}

	if len(facts.facts) != 1 {
		t.Fatalf("facts = %+v, want one", facts.facts)
	}
	f := facts.facts[0]
	if f.Category != FactCategoryLesson || f.Key != "storyline:"+st.ID || f.Value != llm.sentence {
		t.Errorf("fact = %+v", f)
	}

	clock.Advance(time.Hour)
	if _, err := e.Resolve(ctx, st.ID, OutcomeSuccess); !errors.Is(err, ErrOutcomeLocked) {
		t.Errorf("second resolve err = %v, want ErrOutcomeLocked", err)
	}
	again, _ := s.GetStoryline(ctx, st.ID)
	if !again.ResolvedAt.Equal(day0) {
		t.Errorf("ResolvedAt moved to %v", again.ResolvedAt)
	}
}

func TestResolve_TransformedYieldsNoLesson(t *testing.T) {
	llm := &fakeLLM{sentence: "It turned into something else."}
	facts := &fakeFacts{}
	e, s := newTestEngine(t, newTestClock(day0), llm, facts, Options{})
	st := mustCreate(t, s, "Podcast", CategoryCreative, 0.6)

	report, err := e.Resolve(context.Background(), st.ID, OutcomeTransformed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if report.Lesson != "" || len(facts.facts) != 0 {
		t.Errorf("transformed produced lesson %q facts %+v", report.Lesson, facts.facts)
	}
}

func TestResolve_GenerationFailureUsesTemplates(t *testing.T) {
	llm := &fakeLLM{sentenceErr: errors.New("rate limited")}
	facts := &fakeFacts{}
	e, s := newTestEngine(t, newTestClock(day0), llm, facts, Options{})
	ctx := context.Background()
	st := mustCreate(t, s, "Half marathon", CategoryPersonal, 0.7)

	report, err := e.Resolve(ctx, st.ID, OutcomeSuccess)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	steps := len(DefaultRules().Closures[OutcomeSuccess].Steps)
	if report.Fallbacks != steps || len(report.Updates) != steps {
		t.Errorf("fallbacks = %d updates = %d, want %d", report.Fallbacks, len(report.Updates), steps)
	}
	for _, u := range report.Updates {
		if strings.TrimSpace(u.Content) == "" {
			t.Errorf("empty fallback content for %s", u.UpdateType)
		}
	}
	if report.Description != "" || len(facts.facts) != 0 {
		t.Errorf("description %q facts %+v, want none", report.Description, facts.facts)
	}
}

func TestResolve_UpdateCountMatchesTemplate(t *testing.T) {
	for _, outcome := range []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeAbandoned, OutcomeTransformed} {
		t.Run(string(outcome), func(t *testing.T) {
			e, s := newTestEngine(t, newTestClock(day0), nil, nil, Options{})
			ctx := context.Background()
			st := mustCreate(t, s, "Shop", CategoryWork, 0.5)

			if _, err := e.Resolve(ctx, st.ID, outcome); err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			updates, _ := s.ListUpdates(ctx, st.ID)
			if want := len(DefaultRules().Closures[outcome].Steps); len(updates) != want {
				t.Errorf("updates = %d, want %d", len(updates), want)
			}
		})
	}
}

func TestResolve_LatePhaseKeepsPhase(t *testing.T) {
	e, s := newTestEngine(t, newTestClock(day0), nil, nil, Options{})
	ctx := context.Background()
	st := mustCreate(t, s, "Shop", CategoryWork, 0.5)
	setPhase(t, s, st.ID, PhaseResolved, day0)

	if _, err := e.Resolve(ctx, st.ID, OutcomeAbandoned); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, _ := s.GetStoryline(ctx, st.ID)
	if got.Phase != PhaseResolved {
		t.Errorf("Phase = %s, want resolved", got.Phase)
	}
}
