package storyline

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSalience_MonotonicInIntensity(t *testing.T) {
	r := DefaultRules()
	for _, p := range Phases() {
		for _, fresh := range []bool{false, true} {
			prev := -1.0
			for i := 0; i <= 10; i++ {
				st := Storyline{Phase: p, EmotionalIntensity: float64(i) / 10}
				got := r.Salience(st, fresh)
				if got < prev {
					t.Errorf("%s fresh=%v: salience dropped from %.3f to %.3f at intensity %.1f", p, fresh, prev, got, st.EmotionalIntensity)
				}
				prev = got
			}
		}
	}
}

func TestSalience_FreshUpdateBonus(t *testing.T) {
	r := DefaultRules()
	st := Storyline{Phase: PhaseActive, EmotionalIntensity: 0.5}
	if got := r.Salience(st, false); !approx(got, 0.2) {
		t.Errorf("Salience = %v, want 0.2", got)
	}
	if got := r.Salience(st, true); !approx(got, 0.5) {
		t.Errorf("Salience with fresh update = %v, want 0.5", got)
	}
}

func TestSelectSalient_FiltersAndOrders(t *testing.T) {
	r := DefaultRules()
	storylines := []Storyline{
		{ID: "1", Title: "active", Phase: PhaseActive, EmotionalIntensity: 0.9},
		{ID: "2", Title: "minor climax", Phase: PhaseClimax, EmotionalIntensity: 0.2},
		{ID: "3", Title: "climax", Phase: PhaseClimax, EmotionalIntensity: 0.8},
		{ID: "4", Title: "honeymoon", Phase: PhaseHoneymoon, EmotionalIntensity: 0.5},
		{ID: "5", Title: "minor announced", Phase: PhaseAnnounced, EmotionalIntensity: 0.2},
		{ID: "6", Title: "reality", Phase: PhaseReality, EmotionalIntensity: 0.6},
	}
	got := r.SelectSalient(storylines, nil, day0, 0.3, 5)
	if len(got) != 4 {
		t.Fatalf("selected %d, want 4", len(got))
	}
	want := []string{"climax", "active", "honeymoon", "reality"}
	for i, w := range want {
		if got[i].Storyline.Title != w {
			t.Errorf("rank %d = %q, want %q", i, got[i].Storyline.Title, w)
		}
		if i > 0 && got[i].Salience > got[i-1].Salience {
			t.Errorf("not sorted at %d", i)
		}
	}
}

func TestSelectSalient_LimitAndFreshness(t *testing.T) {
	r := DefaultRules()
	var storylines []Storyline
	for i := 0; i < 7; i++ {
		storylines = append(storylines, Storyline{ID: string(rune('a' + i)), Phase: PhaseActive, EmotionalIntensity: 0.5})
	}
	latest := map[string]*Update{
		"g": {StorylineID: "g", Content: "fresh", CreatedAt: day0.Add(-24 * time.Hour)},
		"f": {StorylineID: "f", Content: "stale", CreatedAt: day0.Add(-8 * 24 * time.Hour)},
	}
	got := r.SelectSalient(storylines, latest, day0, 0.3, 5)
	if len(got) != 5 {
		t.Fatalf("selected %d, want 5", len(got))
	}
	if got[0].Storyline.ID != "g" || !approx(got[0].Salience, 0.5) {
		t.Errorf("top = %+v, want g with bonus", got[0])
	}
	for _, s := range got[1:] {
		if s.Storyline.ID == "f" && s.Salience > 0.2+1e-9 {
			t.Errorf("stale update earned bonus: %v", s.Salience)
		}
	}
}

func TestPromptContext_EmptyWhenNothingSurvives(t *testing.T) {
	clock := newTestClock(day0)
	e, s := newTestEngine(t, clock, nil, nil, Options{})
	ctx := context.Background()

	got, err := e.PromptContext(ctx)
	if err != nil || got != "" {
		t.Fatalf("PromptContext on empty store = %q, %v", got, err)
	}

	mustCreate(t, s, "Minor thing", CategoryPersonal, 0.1)
	got, err = e.PromptContext(ctx)
	if err != nil || got != "" {
		t.Fatalf("PromptContext with only minor storylines = %q, %v", got, err)
	}
}

func TestPromptContext_RendersAndMentions(t *testing.T) {
	clock := newTestClock(day0)
	e, s := newTestEngine(t, clock, nil, nil, Options{})
	ctx := context.Background()

	st := mustCreate(t, s, "Launching my shop", CategoryWork, 0.8)
	if _, err := s.AppendUpdate(ctx, st.ID, NewUpdate{UpdateType: UpdateProcessing, Content: "First order came in!"}); err != nil {
		t.Fatal(err)
	}
	future := day0.Add(48 * time.Hour)
	if _, err := s.AppendUpdate(ctx, st.ID, NewUpdate{UpdateType: UpdateReflection, Content: "Not yet", ShouldRevealAt: &future}); err != nil {
		t.Fatal(err)
	}

	got, err := e.PromptContext(ctx)
	if err != nil {
		t.Fatalf("PromptContext: %v", err)
	}
	for _, want := range []string{"## What's going on in your life", "### Launching my shop (work)", "Phase: announced.", "Stakes: it matters", "First order came in!"} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Not yet") {
		t.Errorf("context leaked unrevealed update:\n%s", got)
	}

	if err := e.MarkMentioned(ctx, st.ID); err != nil {
		t.Fatalf("MarkMentioned: %v", err)
	}
	got, _ = e.PromptContext(ctx)
	if strings.Contains(got, "First order came in!") {
		t.Errorf("mentioned update still surfaced:\n%s", got)
	}
	after, _ := s.GetStoryline(ctx, st.ID)
	if after.TimesMentioned != 1 {
		t.Errorf("TimesMentioned = %d", after.TimesMentioned)
	}
}
