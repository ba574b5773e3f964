package storyline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var day0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

// randByPurpose returns a constant draw per purpose, 0.99 for anything unset.
func randByPurpose(m map[string]float64) func(string, string, string) randomSource {
	return func(_, _, purpose string) randomSource {
		if v, ok := m[purpose]; ok {
			return fixedRand(v)
		}
		return fixedRand(0.99)
	}
}

type fakeLLM struct {
	mu          sync.Mutex
	update      *GeneratedUpdate
	updateErr   error
	sentence    string
	sentenceErr error
	prompts     []string
}

func (f *fakeLLM) GenerateUpdate(_ context.Context, prompt string) (*GeneratedUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.update == nil {
		return nil, ErrNoResult
	}
	out := *f.update
	return &out, nil
}

func (f *fakeLLM) GenerateSentence(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.sentenceErr != nil {
		return "", f.sentenceErr
	}
	return f.sentence, nil
}

type fakeFacts struct {
	mu    sync.Mutex
	facts []Fact
}

func (f *fakeFacts) StoreFact(_ context.Context, category, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, Fact{Category: category, Key: key, Value: value})
	return nil
}

func newTestStore(t *testing.T, clock *testClock) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "storylines.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if clock != nil {
		s.SetClock(clock.Now)
	}
	return s
}

func newTestEngine(t *testing.T, clock *testClock, llm LLMClient, facts FactSink, opts Options) (*Engine, *Store) {
	t.Helper()
	s := newTestStore(t, clock)
	opts.Clock = clock.Now
	if opts.Cooldown == 0 {
		opts.Cooldown = 48 * time.Hour
	}
	e, err := NewEngine(s, llm, facts, opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.randFor = randByPurpose(nil)
	return e, s
}

func mustCreate(t *testing.T, s *Store, title string, category Category, intensity float64) *Storyline {
	t.Helper()
	st, err := s.CreateStoryline(context.Background(), NewStoryline{
		Title:              title,
		Category:           category,
		NarrativeType:      NarrativeProject,
		EmotionalTone:      "hopeful",
		EmotionalIntensity: intensity,
		Stakes:             "it matters",
	})
	if err != nil {
		t.Fatalf("CreateStoryline(%q): %v", title, err)
	}
	return st
}

func setPhase(t *testing.T, s *Store, id string, phase Phase, at time.Time) {
	t.Helper()
	if _, err := s.UpdateStoryline(context.Background(), id, StorylinePatch{Phase: &phase, At: at}); err != nil {
		t.Fatalf("set phase %s: %v", phase, err)
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
