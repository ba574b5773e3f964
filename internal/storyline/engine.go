package storyline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stellarlinkco/lifethreads/internal/config"
)

const tracerName = "github.com/stellarlinkco/lifethreads/internal/storyline"

// FactSink receives durable character facts. Delivery is fire-and-forget
// from the engine's point of view.
type FactSink interface {
	StoreFact(ctx context.Context, category, key, value string) error
}

type Options struct {
	Persona            string
	Rules              Rules
	Calendar           Calendar
	Cooldown           time.Duration
	DuplicateWindow    time.Duration
	DuplicateThreshold float64
	Scope              ExclusivityScope
	ContextLimit       int
	MinIntensity       float64
	SurfaceWindow      time.Duration
	MaxCatchUpDays     int
	Clock              func() time.Time
}

// OptionsFromConfig maps the engine section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return Options{}, fmt.Errorf("load timezone %q: %w", cfg.Engine.Timezone, err)
	}
	return Options{
		Persona:            cfg.Persona.Name,
		Rules:              DefaultRules(),
		Calendar:           NewCalendar(loc),
		Cooldown:           time.Duration(cfg.Engine.CooldownHours) * time.Hour,
		DuplicateWindow:    time.Duration(cfg.Engine.DuplicateWindowDays) * 24 * time.Hour,
		DuplicateThreshold: cfg.Engine.DuplicateThreshold,
		Scope:              ExclusivityScope(cfg.Engine.ExclusivityScope),
		ContextLimit:       cfg.Engine.ContextLimit,
		MinIntensity:       cfg.Engine.MinIntensity,
		SurfaceWindow:      time.Duration(cfg.Engine.SurfaceWindowDays) * 24 * time.Hour,
		MaxCatchUpDays:     cfg.Engine.MaxCatchUpDays,
	}, nil
}

func (o *Options) withDefaults() {
	if strings.TrimSpace(o.Persona) == "" {
		o.Persona = "Kayley"
	}
	if o.Rules.Profiles == nil {
		o.Rules = DefaultRules()
	}
	if o.Calendar.loc == nil {
		o.Calendar = NewCalendar(time.UTC)
	}
	if o.Cooldown < 0 {
		o.Cooldown = 0
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 7 * 24 * time.Hour
	}
	if o.DuplicateThreshold <= 0 {
		o.DuplicateThreshold = 0.6
	}
	if o.Scope != ScopeCategory {
		o.Scope = ScopeGlobal
	}
	if o.ContextLimit <= 0 {
		o.ContextLimit = 5
	}
	if o.MinIntensity <= 0 {
		o.MinIntensity = 0.3
	}
	if o.SurfaceWindow <= 0 {
		o.SurfaceWindow = 7 * 24 * time.Hour
	}
	if o.MaxCatchUpDays <= 0 {
		o.MaxCatchUpDays = 30
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Engine ties the lifecycle components to one store, one generation client
// and one fact sink.
type Engine struct {
	store  *Store
	llm    LLMClient
	facts  FactSink
	opts   Options
	rules  Rules
	cal    Calendar
	tracer trace.Tracer

	randFor func(storylineID, dayKey, purpose string) randomSource

	runMu sync.Mutex
}

func NewEngine(store *Store, llm LLMClient, facts FactSink, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("new engine: store is required")
	}
	if opts.Clock != nil {
		store.SetClock(opts.Clock)
	}
	opts.withDefaults()
	if err := opts.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	return &Engine{
		store:   store,
		llm:     llm,
		facts:   facts,
		opts:    opts,
		rules:   opts.Rules,
		cal:     opts.Calendar,
		tracer:  otel.Tracer(tracerName),
		randFor: seededRand,
	}, nil
}

func (e *Engine) Store() *Store { return e.store }

func (e *Engine) Calendar() Calendar { return e.cal }

func (e *Engine) Rules() Rules { return e.rules }

func (e *Engine) now() time.Time { return e.opts.Clock() }
