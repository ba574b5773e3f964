package storyline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// DueChance is the probability of generating an update after daysSinceLast
// days in a phase with the given interval. Zero means not due.
func (r Rules) DueChance(interval, daysSinceLast int) float64 {
	if daysSinceLast < interval {
		return 0
	}
	overdue := float64(daysSinceLast - interval)
	return math.Min(r.MaxOverdueChance, r.BaseDueChance+r.OverdueStep*overdue)
}

// maybeGenerateUpdate draws against the due chance for st on day and, on a
// hit, asks the generation client for the next beat. It returns nil without
// an error when nothing was produced.
func (e *Engine) maybeGenerateUpdate(ctx context.Context, st *Storyline, day time.Time) (*Update, error) {
	if st.Phase.Terminal() {
		return nil, nil
	}
	profile := e.rules.Profile(st.Phase)

	since := st.CreatedAt
	latest, err := e.store.LatestUpdateTime(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		since = *latest
	}
	daysSinceLast := e.cal.DaysBetween(since, day)

	chance := e.rules.DueChance(profile.UpdateIntervalDays, daysSinceLast)
	if chance <= 0 {
		return nil, nil
	}
	if e.randFor(st.ID, e.cal.Key(day), "update").Float64() >= chance {
		return nil, nil
	}
	if e.llm == nil {
		return nil, nil
	}

	recent, err := e.store.RecentUpdates(ctx, st.ID, 3)
	if err != nil {
		return nil, err
	}
	gen, err := e.llm.GenerateUpdate(ctx, buildUpdatePrompt(e.opts.Persona, *st, profile, recent))
	if err != nil {
		if errors.Is(err, ErrNoResult) {
			log.Printf("[storyline] discarded malformed update for %q: %v", st.Title, err)
		} else {
			log.Printf("[storyline] warning: update generation for %q failed: %v", st.Title, err)
		}
		return nil, nil
	}
	updateType := UpdateType(gen.UpdateType)
	if !e.rules.Allows(st.Phase, updateType) {
		log.Printf("[storyline] discarded update for %q: type %q not allowed in %s", st.Title, gen.UpdateType, st.Phase)
		return nil, nil
	}

	reveal := day
	u, err := e.store.AppendUpdate(ctx, st.ID, NewUpdate{
		UpdateType:     updateType,
		Content:        gen.Content,
		EmotionalTone:  gen.EmotionalTone,
		ShouldRevealAt: &reveal,
	})
	if err != nil {
		return nil, fmt.Errorf("append generated update: %w", err)
	}
	if gen.EmotionalTone != "" {
		tone := gen.EmotionalTone
		if updated, err := e.store.UpdateStoryline(ctx, st.ID, StorylinePatch{CurrentEmotionalTone: &tone}); err != nil {
			log.Printf("[storyline] warning: refresh tone for %q: %v", st.Title, err)
		} else {
			*st = *updated
		}
	}
	log.Printf("[storyline] update %s for %q (%s)", updateType, st.Title, e.cal.Key(day))
	return u, nil
}
