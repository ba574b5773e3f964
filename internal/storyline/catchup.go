package storyline

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CatchUpReport summarizes one catch-up run.
type CatchUpReport struct {
	StartedAt        time.Time
	Days             []string
	SkippedDays      int
	AlreadyProcessed int
	Transitions      []TransitionEvent
	UpdatesGenerated int
	Errors           int
}

// CatchUp processes every calendar day since the watermark, oldest first,
// and advances the watermark once all of them are done. Concurrent calls run
// one after another.
func (e *Engine) CatchUp(ctx context.Context) (*CatchUpReport, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	now := e.now()
	report := &CatchUpReport{StartedAt: now}

	ctx, span := e.tracer.Start(ctx, "storyline.catchup")
	defer span.End()

	last, err := e.store.LastProcessedAt(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read watermark")
		return report, fmt.Errorf("catch up: %w", err)
	}

	missed := 1
	if last != nil {
		missed = e.cal.DaysBetween(*last, now)
	}
	if missed <= 0 {
		// Same day as the last run; today may still be unprocessed if the
		// previous run was interrupted before its marker.
		missed = 1
	}
	if missed > e.opts.MaxCatchUpDays {
		report.SkippedDays = missed - e.opts.MaxCatchUpDays
		log.Printf("[storyline] catch-up: %d days missed, replaying last %d", missed, e.opts.MaxCatchUpDays)
		missed = e.opts.MaxCatchUpDays
	}

	for back := missed - 1; back >= 0; back-- {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		day := e.cal.AddDays(now, -back)
		key := e.cal.Key(day)

		done, err := e.store.DayProcessed(ctx, key)
		if err != nil {
			span.RecordError(err)
			return report, fmt.Errorf("catch up %s: %w", key, err)
		}
		if done {
			report.AlreadyProcessed++
			continue
		}

		e.processDay(ctx, day, report)
		if err := e.store.MarkDayProcessed(ctx, key); err != nil {
			span.RecordError(err)
			return report, fmt.Errorf("catch up %s: %w", key, err)
		}
		report.Days = append(report.Days, key)
	}

	if err := e.store.SetLastProcessedAt(ctx, now); err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("catch up: %w", err)
	}
	span.SetAttributes(
		attribute.Int("catchup.days", len(report.Days)),
		attribute.Int("catchup.transitions", len(report.Transitions)),
		attribute.Int("catchup.updates", report.UpdatesGenerated),
		attribute.Int("catchup.errors", report.Errors),
	)
	if len(report.Days) > 0 {
		log.Printf("[storyline] catch-up: %d days, %d transitions, %d updates, %d errors",
			len(report.Days), len(report.Transitions), report.UpdatesGenerated, report.Errors)
	}
	return report, nil
}

// processDay runs the transition engine and update generator for every
// in-flight storyline as of day. Failures are counted and logged, never
// returned.
func (e *Engine) processDay(ctx context.Context, day time.Time, report *CatchUpReport) {
	key := e.cal.Key(day)
	ctx, span := e.tracer.Start(ctx, "storyline.process_day", trace.WithAttributes(attribute.String("day", key)))
	defer span.End()

	storylines, err := e.store.ListInFlight(ctx)
	if err != nil {
		log.Printf("[storyline] warning: list storylines for %s: %v", key, err)
		span.RecordError(err)
		report.Errors++
		return
	}

	for i := range storylines {
		st := &storylines[i]
		ev, err := e.advance(ctx, st, day)
		if err != nil {
			log.Printf("[storyline] warning: transition for %q on %s: %v", st.Title, key, err)
			report.Errors++
		}
		if ev != nil {
			report.Transitions = append(report.Transitions, *ev)
			if ev.Outcome != OutcomeNone {
				// The closure sequence already wrote this storyline's updates.
				continue
			}
		}

		u, err := e.maybeGenerateUpdate(ctx, st, day)
		if err != nil {
			log.Printf("[storyline] warning: update for %q on %s: %v", st.Title, key, err)
			report.Errors++
			continue
		}
		if u != nil {
			report.UpdatesGenerated++
		}
	}
}
