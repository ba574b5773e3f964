package storyline

import (
	"context"
	"fmt"
)

const stressEnergyDrain = 0.1

// MoodEffect is one storyline's contribution to the persona's mood.
type MoodEffect struct {
	StorylineID   string
	Title         string
	Phase         Phase
	MoodDelta     float64
	EnergyDelta   float64
	Preoccupation float64
}

// MoodReport sums the per-storyline effects.
type MoodReport struct {
	Effects            []MoodEffect
	TotalMood          float64
	TotalEnergy        float64
	TotalPreoccupation float64
}

// CalculateMood derives mood signals from storylines. It has no side effects.
func (r Rules) CalculateMood(storylines []Storyline) MoodReport {
	report := MoodReport{Effects: make([]MoodEffect, 0, len(storylines))}
	for _, st := range storylines {
		profile := r.Profile(st.Phase)
		intensity := clampIntensity(st.EmotionalIntensity)
		eff := MoodEffect{
			StorylineID:   st.ID,
			Title:         st.Title,
			Phase:         st.Phase,
			MoodDelta:     profile.MoodImpact * intensity,
			Preoccupation: profile.Preoccupation * intensity,
		}
		if st.Phase.Stressful() {
			eff.EnergyDelta = -stressEnergyDrain * intensity
		}
		report.Effects = append(report.Effects, eff)
		report.TotalMood += eff.MoodDelta
		report.TotalEnergy += eff.EnergyDelta
		report.TotalPreoccupation += eff.Preoccupation
	}
	return report
}

// Mood computes the report over the storylines currently worth surfacing.
func (e *Engine) Mood(ctx context.Context) (MoodReport, error) {
	storylines, err := e.store.ListSurfaceable(ctx, e.now().Add(-e.opts.SurfaceWindow))
	if err != nil {
		return MoodReport{}, fmt.Errorf("mood: %w", err)
	}
	return e.rules.CalculateMood(storylines), nil
}
