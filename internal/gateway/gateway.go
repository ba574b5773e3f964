package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stellarlinkco/lifethreads/internal/bus"
	"github.com/stellarlinkco/lifethreads/internal/config"
	"github.com/stellarlinkco/lifethreads/internal/cron"
	"github.com/stellarlinkco/lifethreads/internal/storyline"
	"github.com/stellarlinkco/lifethreads/internal/telemetry"
)

const dailyJobName = "storyline-daily-catchup"

// LLMFactory creates the generation client (allows mocking in tests)
type LLMFactory func(cfg *config.Config) storyline.LLMClient

// Options for creating a Gateway
type Options struct {
	LLMFactory LLMFactory
	Clock      func() time.Time
	SignalChan chan os.Signal // for testing signal handling
}

// DefaultLLMFactory returns nil when no API key is configured, which makes
// the engine skip generated updates and close storylines from templates.
func DefaultLLMFactory(cfg *config.Config) storyline.LLMClient {
	if strings.TrimSpace(cfg.GenerationProvider().APIKey) == "" {
		log.Printf("[gateway] warning: no generation api key, narrative generation disabled")
		return nil
	}
	return storyline.NewLLMClient(cfg)
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *storyline.Store
	engine     *storyline.Engine
	cron       *cron.Service
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	// Fact and mention side effects flow through the bus.
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	store, err := storyline.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("create storyline store: %w", err)
	}
	g.store = store

	engOpts, err := storyline.OptionsFromConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engOpts.Clock = opts.Clock

	factory := opts.LLMFactory
	if factory == nil {
		factory = DefaultLLMFactory
	}
	engine, err := storyline.NewEngine(store, factory(cfg), g.bus, engOpts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create storyline engine: %w", err)
	}
	g.engine = engine

	g.cron = cron.NewService(engine.Calendar().Location())
	if cfg.Scheduler.Enabled {
		if err := g.cron.AddJob(dailyJobName, cfg.Scheduler.DailyExpr, g.dailyCatchUp); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("schedule daily catch-up: %w", err)
		}
	}

	return g, nil
}

func (g *Gateway) Engine() *storyline.Engine { return g.engine }

func (g *Gateway) Store() *storyline.Store { return g.store }

func (g *Gateway) Bus() *bus.MessageBus { return g.bus }

func (g *Gateway) Cron() *cron.Service { return g.cron }

// handleOutbound applies one bus message against the store.
func (g *Gateway) handleOutbound(ctx context.Context, msg bus.OutboundMessage) error {
	switch msg.Kind {
	case bus.EventFact:
		return g.store.StoreFact(ctx, msg.Category, msg.Key, msg.Value)
	case bus.EventMention:
		return g.engine.MarkMentioned(ctx, msg.StorylineID)
	}
	return fmt.Errorf("%w: %q", bus.ErrUnknownEvent, msg.Kind)
}

// Flush applies every queued side effect and returns how many were handled.
func (g *Gateway) Flush(ctx context.Context) int {
	return g.bus.Drain(ctx, g.handleOutbound)
}

// CatchUp runs one catch-up pass and applies the side effects it queued.
func (g *Gateway) CatchUp(ctx context.Context) (*storyline.CatchUpReport, error) {
	report, err := g.engine.CatchUp(ctx)
	g.Flush(ctx)
	return report, err
}

func (g *Gateway) dailyCatchUp(ctx context.Context) (string, error) {
	report, err := g.CatchUp(ctx)
	if err != nil {
		return "", err
	}
	return summarize(report), nil
}

func summarize(r *storyline.CatchUpReport) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("days=%d skipped=%d already=%d transitions=%d updates=%d errors=%d",
		len(r.Days), r.SkippedDays, r.AlreadyProcessed, len(r.Transitions), r.UpdatesGenerated, r.Errors)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, g.cfg.Telemetry)
	if err != nil {
		log.Printf("[gateway] telemetry setup warning: %v", err)
	}

	dispatchDone := make(chan struct{})
	go func() {
		g.bus.DispatchOutbound(ctx, g.handleOutbound)
		close(dispatchDone)
	}()

	// Startup catch-up covers whatever the process missed while down.
	if report, err := g.engine.CatchUp(ctx); err != nil {
		log.Printf("[gateway] startup catch-up error: %v", err)
	} else {
		log.Printf("[gateway] startup catch-up: %s", summarize(report))
	}

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	log.Printf("[gateway] running for %s (timezone %s)", g.cfg.Persona.Name, g.cfg.Engine.Timezone)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	g.cron.Stop()
	cancel()
	<-dispatchDone
	if shutdownTracing != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("[gateway] telemetry shutdown warning: %v", err)
		}
		flushCancel()
	}
	return g.Shutdown()
}

func (g *Gateway) Shutdown() error {
	if g.cron != nil {
		g.cron.Stop()
	}
	if g.bus != nil && g.store != nil {
		if n := g.Flush(context.Background()); n > 0 {
			log.Printf("[gateway] flushed %d pending side effects", n)
		}
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			return fmt.Errorf("close storyline store: %w", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}
