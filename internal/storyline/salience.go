package storyline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	freshUpdateBonus  = 0.3
	freshUpdateWindow = 7 * 24 * time.Hour

	contextHeader = `## What's going on in your life
These are things currently happening to you. Bring them up only when it feels natural, the way you would with a friend. Never list them all at once.`

	contextFooter = `Let whatever is most on your mind color your mood. If you have news you haven't shared yet, you can mention it when there is an opening. Don't force it.`
)

// SalientStoryline is a ranked candidate for the prompt context.
type SalientStoryline struct {
	Storyline Storyline
	Salience  float64
	Latest    *Update
}

// Salience scores a storyline for surfacing. hasFresh reports an unmentioned,
// already revealed update created within the last week.
func (r Rules) Salience(st Storyline, hasFresh bool) float64 {
	score := r.Profile(st.Phase).Urgency * clampIntensity(st.EmotionalIntensity)
	if hasFresh {
		score += freshUpdateBonus
	}
	return score
}

// SelectSalient filters out storylines below minIntensity, ranks the rest by
// salience and keeps at most limit. latest maps storyline id to its most
// recent unmentioned revealed update.
func (r Rules) SelectSalient(storylines []Storyline, latest map[string]*Update, now time.Time, minIntensity float64, limit int) []SalientStoryline {
	out := make([]SalientStoryline, 0, len(storylines))
	for _, st := range storylines {
		if st.EmotionalIntensity < minIntensity {
			continue
		}
		u := latest[st.ID]
		fresh := u != nil && !u.CreatedAt.Before(now.Add(-freshUpdateWindow))
		out = append(out, SalientStoryline{Storyline: st, Salience: r.Salience(st, fresh), Latest: u})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Salience > out[j].Salience
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Salient returns the ranked storylines the prompt context would include.
func (e *Engine) Salient(ctx context.Context) ([]SalientStoryline, error) {
	now := e.now()
	storylines, err := e.store.ListSurfaceable(ctx, now.Add(-e.opts.SurfaceWindow))
	if err != nil {
		return nil, fmt.Errorf("salience: %w", err)
	}
	if len(storylines) == 0 {
		return nil, nil
	}
	unmentioned, err := e.store.ListUnmentionedUpdates(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("salience: %w", err)
	}
	latest := make(map[string]*Update, len(storylines))
	for i := range unmentioned {
		u := &unmentioned[i]
		if _, ok := latest[u.StorylineID]; !ok {
			latest[u.StorylineID] = u
		}
	}
	return e.rules.SelectSalient(storylines, latest, now, e.opts.MinIntensity, e.opts.ContextLimit), nil
}

// PromptContext renders the salient storylines as a block for the
// conversational prompt. An empty string means the section should be omitted.
func (e *Engine) PromptContext(ctx context.Context) (string, error) {
	selected, err := e.Salient(ctx)
	if err != nil {
		return "", err
	}
	return e.rules.RenderContext(selected), nil
}

func (r Rules) RenderContext(selected []SalientStoryline) string {
	if len(selected) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, s := range selected {
		st := s.Storyline
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "### %s (%s)\n", st.Title, st.Category)
		fmt.Fprintf(&b, "Phase: %s. %s\n", st.Phase, r.Profile(st.Phase).Guidance)
		if st.CurrentEmotionalTone != "" {
			fmt.Fprintf(&b, "Feeling: %s\n", st.CurrentEmotionalTone)
		}
		if st.Stakes != "" {
			fmt.Fprintf(&b, "Stakes: %s\n", st.Stakes)
		}
		if s.Latest != nil {
			fmt.Fprintf(&b, "Not shared yet: %s\n", s.Latest.Content)
		}
	}
	b.WriteString("\n")
	b.WriteString(contextFooter)
	return b.String()
}

// MarkMentioned records that a storyline came up in conversation and flips
// its revealed unmentioned updates.
func (e *Engine) MarkMentioned(ctx context.Context, storylineID string) error {
	if err := e.store.MarkStorylineMentioned(ctx, storylineID); err != nil {
		return err
	}
	updates, err := e.store.ListUnmentionedUpdates(ctx, storylineID)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if err := e.store.MarkUpdateMentioned(ctx, u.ID); err != nil {
			return err
		}
	}
	return nil
}
