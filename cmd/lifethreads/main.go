package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/lifethreads/internal/config"
	"github.com/stellarlinkco/lifethreads/internal/gateway"
	"github.com/stellarlinkco/lifethreads/internal/storyline"
)

// GatewayFactory builds the wired gateway (allows injection in tests)
type GatewayFactory func(cfg *config.Config) (*gateway.Gateway, error)

var newGateway GatewayFactory = gateway.New

var rootCmd = &cobra.Command{
	Use:          "lifethreads",
	Short:        "lifethreads - storyline lifecycle engine for a synthetic persona",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Catch up, then run the daily scheduler until interrupted",
	RunE:  runRun,
}

var catchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "Process every day missed since the last run",
	RunE:  runCatchUp,
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the storyline block for the conversational prompt",
	RunE:  runContext,
}

var moodCmd = &cobra.Command{
	Use:   "mood",
	Short: "Show the mood effects of current storylines",
	RunE:  runMood,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a storyline through the safety gate",
	RunE:  runCreate,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <storyline-id> <success|failure|abandoned|transformed>",
	Short: "Decide a storyline's outcome and run its closure",
	Args:  cobra.ExactArgs(2),
	RunE:  runResolve,
}

var mentionCmd = &cobra.Command{
	Use:   "mention <storyline-id>",
	Short: "Record that a storyline came up in conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runMention,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List storylines",
	RunE:  runList,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lifethreads status",
	RunE:  runStatus,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var (
	createTitle        string
	createCategory     string
	createType         string
	createTone         string
	createIntensity    float64
	createAnnouncement string
	createStakes       string
	listAll            bool
	listLimit          int
)

func init() {
	createCmd.Flags().StringVarP(&createTitle, "title", "t", "", "Storyline title")
	createCmd.Flags().StringVarP(&createCategory, "category", "c", "personal", "work, personal, family, social or creative")
	createCmd.Flags().StringVar(&createType, "type", "goal", "project, opportunity, challenge, relationship or goal")
	createCmd.Flags().StringVar(&createTone, "tone", "", "Initial emotional tone")
	createCmd.Flags().Float64Var(&createIntensity, "intensity", 0.5, "Emotional intensity between 0 and 1")
	createCmd.Flags().StringVar(&createAnnouncement, "announce", "", "How the persona first shares the news")
	createCmd.Flags().StringVar(&createStakes, "stakes", "", "What is at stake")
	_ = createCmd.MarkFlagRequired("title")

	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include storylines with an outcome")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum storylines with --all")

	rootCmd.AddCommand(runCmd, catchupCmd, contextCmd, moodCmd, createCmd, resolveCmd,
		mentionCmd, listCmd, statusCmd, onboardCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withGateway loads config, wires a gateway for one command and flushes its
// queued side effects before closing it.
func withGateway(cmd *cobra.Command, fn func(ctx context.Context, g *gateway.Gateway, out io.Writer) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, g, cmd.OutOrStdout())
	g.Flush(ctx)
	if err := g.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return g.Run(ctx)
}

func runCatchUp(cmd *cobra.Command, args []string) error {
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		report, err := g.CatchUp(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Processed %d day(s)", len(report.Days))
		if len(report.Days) > 0 {
			fmt.Fprintf(out, ": %s", strings.Join(report.Days, ", "))
		}
		fmt.Fprintln(out)
		if report.SkippedDays > 0 {
			fmt.Fprintf(out, "Skipped %d older day(s) beyond the catch-up limit\n", report.SkippedDays)
		}
		if report.AlreadyProcessed > 0 {
			fmt.Fprintf(out, "Already processed: %d day(s)\n", report.AlreadyProcessed)
		}
		for _, tr := range report.Transitions {
			line := fmt.Sprintf("  %s  %q %s -> %s (%s)", tr.Day, tr.Title, tr.Decision.From, tr.Decision.To, tr.Decision.Kind)
			if tr.Outcome != "" {
				line += ", outcome " + string(tr.Outcome)
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "Updates generated: %d, errors: %d\n", report.UpdatesGenerated, report.Errors)
		return nil
	})
}

func runContext(cmd *cobra.Command, args []string) error {
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		text, err := g.Engine().PromptContext(ctx)
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Fprintln(out, "(nothing to surface)")
			return nil
		}
		fmt.Fprintln(out, text)
		return nil
	})
}

func runMood(cmd *cobra.Command, args []string) error {
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		report, err := g.Engine().Mood(ctx)
		if err != nil {
			return err
		}
		for _, e := range report.Effects {
			fmt.Fprintf(out, "  %-30s %-10s mood %+.2f energy %+.2f preoccupation %.2f\n",
				truncate(e.Title, 30), e.Phase, e.MoodDelta, e.EnergyDelta, e.Preoccupation)
		}
		fmt.Fprintf(out, "Total: mood %+.2f energy %+.2f preoccupation %.2f\n",
			report.TotalMood, report.TotalEnergy, report.TotalPreoccupation)
		return nil
	})
}

func runCreate(cmd *cobra.Command, args []string) error {
	category, err := storyline.ParseCategory(createCategory)
	if err != nil {
		return err
	}
	narrative, err := storyline.ParseNarrativeType(createType)
	if err != nil {
		return err
	}
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		res, err := g.Engine().CreateStoryline(ctx, storyline.NewStoryline{
			Title:               createTitle,
			Category:            category,
			NarrativeType:       narrative,
			EmotionalTone:       createTone,
			EmotionalIntensity:  createIntensity,
			InitialAnnouncement: createAnnouncement,
			Stakes:              createStakes,
		})
		if res != nil && !res.Created {
			fmt.Fprintf(out, "Rejected: %s", res.Reason)
			if res.Detail != "" {
				fmt.Fprintf(out, " (%s)", res.Detail)
			}
			if res.HoursRemaining > 0 {
				fmt.Fprintf(out, ", %dh remaining", res.HoursRemaining)
			}
			fmt.Fprintln(out)
		}
		if err != nil {
			return err
		}
		if res.Created {
			fmt.Fprintf(out, "Created %s: %s [%s, %s]\n", res.Storyline.ID, res.Storyline.Title, res.Storyline.Category, res.Storyline.Phase)
		}
		return nil
	})
}

func runResolve(cmd *cobra.Command, args []string) error {
	outcome, err := storyline.ParseOutcome(args[1])
	if err != nil {
		return err
	}
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		report, err := g.Engine().Resolve(ctx, args[0], outcome)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Resolved %q as %s\n", report.Storyline.Title, report.Outcome)
		if report.Description != "" {
			fmt.Fprintf(out, "  %s\n", report.Description)
		}
		for _, u := range report.Updates {
			reveal := "now"
			if u.ShouldRevealAt != nil {
				reveal = g.Engine().Calendar().Key(*u.ShouldRevealAt)
			}
			fmt.Fprintf(out, "  [%s] %s: %s\n", reveal, u.UpdateType, u.Content)
		}
		if report.Lesson != "" {
			fmt.Fprintf(out, "Lesson: %s\n", report.Lesson)
		}
		return nil
	})
}

func runMention(cmd *cobra.Command, args []string) error {
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		if _, err := g.Store().GetStoryline(ctx, args[0]); err != nil {
			return err
		}
		if err := g.Bus().PublishMention(ctx, args[0]); err != nil {
			return err
		}
		g.Flush(ctx)
		st, err := g.Store().GetStoryline(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Mentioned %q (%d times)\n", st.Title, st.TimesMentioned)
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		var (
			list []storyline.Storyline
			err  error
		)
		if listAll {
			list, err = g.Store().ListAll(ctx, listLimit)
		} else {
			list, err = g.Store().ListActive(ctx)
		}
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No storylines")
			return nil
		}
		cal := g.Engine().Calendar()
		for _, st := range list {
			outcome := string(st.Outcome)
			if outcome == "" {
				outcome = "-"
			}
			fmt.Fprintf(out, "%s  %-30s %-9s %-10s %-11s %.2f  since %s\n",
				st.ID, truncate(st.Title, 30), st.Category, st.Phase, outcome,
				st.EmotionalIntensity, cal.Key(st.PhaseStartedAt))
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Persona: %s\n", cfg.Persona.Name)
	fmt.Fprintf(out, "Database: %s\n", cfg.Storage.DBPath)
	fmt.Fprintf(out, "Timezone: %s\n", cfg.Engine.Timezone)
	fmt.Fprintf(out, "Model: %s\n", cfg.Generation.Model)
	p := cfg.GenerationProvider()
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(p.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(p.APIKey))
	fmt.Fprintf(out, "Scheduler: enabled=%v (%s)\n", cfg.Scheduler.Enabled, cfg.Scheduler.DailyExpr)

	if _, err := os.Stat(cfg.Storage.DBPath); err != nil {
		fmt.Fprintln(out, "Storylines: no database yet (run 'lifethreads catchup')")
		return nil
	}
	return withGateway(cmd, func(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
		stats, err := g.Store().Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Storylines: %d active, %d in flight, %d resolved\n", stats.Active, stats.InFlight, stats.Resolved)
		fmt.Fprintf(out, "Updates: %d (%d pending reveal)\n", stats.Updates, stats.PendingReveals)
		fmt.Fprintf(out, "Facts: %d, blocked creations: %d\n", stats.Facts, stats.CreationBlocked)
		if stats.LastProcessedAt != nil {
			fmt.Fprintf(out, "Last processed: %s\n", stats.LastProcessedAt.In(g.Engine().Calendar().Location()).Format(time.RFC3339))
		} else {
			fmt.Fprintln(out, "Last processed: never")
		}
		return nil
	})
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key and timezone\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set LIFETHREADS_API_KEY / ANTHROPIC_API_KEY")
	fmt.Fprintln(out, "  3. Run 'lifethreads create -t \"...\"' and 'lifethreads run'")
	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
