// Package main provides a command-line interface for the iav agent.
// Each line read from stdin is one agent turn; tool calls that need approval
// are confirmed on the same terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Cyclone1070/iav/internal/availability"
	"github.com/Cyclone1070/iav/internal/config"
	"github.com/Cyclone1070/iav/internal/confirmation"
	"github.com/Cyclone1070/iav/internal/fallback"
	"github.com/Cyclone1070/iav/internal/hooks"
	"github.com/Cyclone1070/iav/internal/policy"
	"github.com/Cyclone1070/iav/internal/provider"
	"github.com/Cyclone1070/iav/internal/provider/gemini"
	"github.com/Cyclone1070/iav/internal/retry"
	"github.com/Cyclone1070/iav/internal/routing"
	"github.com/Cyclone1070/iav/internal/scheduler"
	"github.com/Cyclone1070/iav/internal/tool"
	"github.com/Cyclone1070/iav/internal/tool/todo"
	"github.com/Cyclone1070/iav/internal/workflow"
	"github.com/Cyclone1070/iav/internal/workflow/loop"
	"github.com/Cyclone1070/iav/internal/workflow/toolmanager"
	"github.com/charmbracelet/glamour"
	"goa.design/clue/log"
	"google.golang.org/genai"
)

// Dependencies holds the components required to run the application.
type Dependencies struct {
	Config          *config.Config
	Catalog         *availability.Catalog
	In              io.Reader
	Out             io.Writer
	Markdown        *glamour.TermRenderer // Optional
	ProviderFactory func(context.Context) (provider.Provider, error)
}

func createRealProviderFactory() func(context.Context) (provider.Provider, error) {
	return func(ctx context.Context) (provider.Provider, error) {
		client, err := newGeminiClient(ctx)
		if err != nil {
			return nil, err
		}
		return gemini.NewGeminiProvider(client), nil
	}
}

func newGeminiClient(ctx context.Context) (*gemini.RealGeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return gemini.NewRealGeminiClient(genaiClient), nil
}

func createTools(cfg *config.Config) []tool.Tool {
	todoStore := todo.NewInMemoryTodoStore()
	return []tool.Tool{
		todo.NewReadTodosTool(todoStore),
		todo.NewWriteTodosTool(todoStore, cfg.Tools.MaxTodos),
	}
}

func main() {
	var (
		dbgF        = flag.Bool("debug", false, "Enable debug logs")
		listModelsF = flag.Bool("list-models", false, "List available Gemini models and exit")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listModelsF {
		if err := listModels(ctx, os.Stdout); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "list models"})
			os.Exit(1)
		}
		return
	}

	// Load configuration (from defaults + ~/.config/iav/config.json)
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "failed to load config, using defaults"}, log.KV{K: "err", V: err.Error()})
		cfg = config.DefaultConfig()
	}
	catalog, err := loader.LoadCatalog(cfg)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "failed to load policy catalog, using built-in"}, log.KV{K: "err", V: err.Error()})
		catalog = availability.DefaultCatalog()
	}

	deps := Dependencies{
		Config:          cfg,
		Catalog:         catalog,
		In:              os.Stdin,
		Out:             os.Stdout,
		ProviderFactory: createRealProviderFactory(),
	}
	if log.IsTerminal() {
		deps.Markdown = newMarkdownRenderer()
	}
	if err := runInteractive(ctx, deps); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "iav exited"})
		os.Exit(1)
	}
}

func listModels(ctx context.Context, out io.Writer) error {
	client, err := newGeminiClient(ctx)
	if err != nil {
		return err
	}
	models, err := gemini.NewGeminiProvider(client).ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Fprintf(out, "%s\t(in %d, out %d tokens)\n", m.Name, m.InputTokenLimit, m.OutputTokenLimit)
	}
	return nil
}

// app is one wired session.
type app struct {
	loop   *loop.Loop
	events chan workflow.Event
	policy *policy.Engine
	state  *routing.ModelState
}

func newApp(cfg *config.Config, catalog *availability.Catalog, p provider.Provider, term *terminal) *app {
	tier := availability.Tier(cfg.Model.Tier)
	chain := catalog.ChainFor(tier)

	bus := confirmation.NewBus()
	engine := policy.NewEngine(policy.Rules{Allow: cfg.Policy.ToolsAllow, Deny: cfg.Policy.ToolsDeny})
	engine.Listen(bus)
	term.approveOn(bus)
	hooks.NewRunner(map[string][]string{
		confirmation.HookBeforeTool: cfg.Hooks.BeforeTool,
	}).Listen(bus)

	tracker := availability.NewTracker()
	state := routing.NewModelState(cfg.Model.Preferred)
	resolver := fallback.NewResolver(tracker, catalog, tier, state, term.chooseFallback)

	events := make(chan workflow.Event, 64)
	tools := toolmanager.NewToolManager(createTools(cfg)...)
	sched := scheduler.New(tools, engine, bus, loop.SchedulerCallbacks(events))

	l := loop.NewLoop(loop.Deps{
		Provider:  p,
		Tools:     tools,
		Scheduler: sched,
		Router:    routing.NewRouter(state, tracker, chain),
		Turns:     tracker,
		Retry: retry.Options{
			MaxAttempts:  retry.Attempts(cfg.Retry.MaxAttempts),
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,

			RetryNetworkErrors: cfg.Retry.RetryNetworkErrors,

			Tracker: tracker,
			PolicyFor: func(model string) (availability.ModelPolicy, bool) {
				return catalog.PolicyFor(tier, model), true
			},
			OnFallback: resolver.Handle,
			Models:     state,
		},
	}, events, cfg.Workflow.MaxIterations)

	return &app{loop: l, events: events, policy: engine, state: state}
}

func runInteractive(ctx context.Context, deps Dependencies) error {
	p, err := deps.ProviderFactory(ctx)
	if err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}

	term := newTerminal(deps.In, deps.Out, deps.Markdown)
	a := newApp(deps.Config, deps.Catalog, p, term)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		term.render(a.events)
	}()
	defer func() {
		close(a.events)
		wg.Wait()
		if persisted := a.policy.Persisted(); len(persisted) > 0 {
			term.printf("Saved approvals: %s (add them to policy.tools_allow in %s)\n", strings.Join(persisted, ", "), config.ConfigFile)
			log.Info(ctx, log.KV{K: "msg", V: "tools allowed permanently"}, log.KV{K: "tools", V: persisted})
		}
	}()

	for {
		goal, err := term.readGoal(ctx, a.state.Model())
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if goal == "" {
			continue
		}

		if err := a.loop.Run(ctx, goal); err != nil && ctx.Err() == nil {
			term.printf("Error: %v\n", err)
		}
		term.waitIdle()
	}
}
