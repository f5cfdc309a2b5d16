// Command kokoro runs the personal agent: an HTTP message endpoint,
// an optional MCP server, and the file-based memory underneath both.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kokoro-agent/kokoro/pkg/agent"
	"github.com/kokoro-agent/kokoro/pkg/api"
	"github.com/kokoro-agent/kokoro/pkg/config"
	"github.com/kokoro-agent/kokoro/pkg/executor"
	"github.com/kokoro-agent/kokoro/pkg/llm"
	kokoromcp "github.com/kokoro-agent/kokoro/pkg/mcp"
	"github.com/kokoro-agent/kokoro/pkg/memory"
	"github.com/kokoro-agent/kokoro/pkg/prompt"
	"github.com/kokoro-agent/kokoro/pkg/skills"
	"github.com/kokoro-agent/kokoro/pkg/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kokoro:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("kokoro", flag.ContinueOnError)
	dataDir := flags.String("data", config.DefaultBaseDir(), "data directory")
	configPath := flags.String("config", "", "config file (default <data>/config.yaml)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		printUsage()
		return nil
	}

	switch rest[0] {
	case "init":
		if err := config.InitBaseDir(*dataDir); err != nil {
			return err
		}
		fmt.Println("initialized", *dataDir)
		return nil
	case "serve":
		return serve(*dataDir, resolveConfigPath(*dataDir, *configPath), false)
	case "mcp":
		return serve(*dataDir, resolveConfigPath(*dataDir, *configPath), true)
	case "version":
		fmt.Println("kokoro", version)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: kokoro [-data DIR] [-config FILE] <command>

commands:
  init     create the data directory and default config
  serve    run the HTTP API (and MCP server when enabled)
  mcp      serve MCP over stdio
  version  print the version`)
}

func resolveConfigPath(dataDir, configPath string) string {
	if configPath != "" {
		return configPath
	}
	path := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// serve builds the full stack and runs it until interrupted. With
// stdio set, it speaks MCP on stdin/stdout instead of binding sockets.
func serve(dataDir, configPath string, stdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Memory.BaseDir != "" {
		dataDir = cfg.Memory.BaseDir
	}

	logOutput := os.Stderr
	logger := telemetry.ConfigureSlog(logOutput, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(cfg.Agent.Name, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	store := memory.NewStore(dataDir)
	lease := memory.NewLease(cfg.Memory.LeaseTimeout)

	library, err := skills.NewLibrary(filepath.Join(dataDir, "skills"))
	if err != nil {
		return err
	}
	logger.Info("skills loaded", slog.Int("count", library.Len()))

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	gateway := llm.NewGateway(provider,
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
	)

	auditPath := cfg.Executor.AuditDB
	if auditPath == "" {
		auditPath = filepath.Join(dataDir, "audit.db")
	}
	audit, err := executor.OpenAuditDB(auditPath)
	if err != nil {
		return err
	}
	defer audit.Close()

	dispatcher := agent.New(
		store,
		lease,
		library,
		prompt.NewAssembler(store, library,
			prompt.WithBudget(cfg.Context.Budget),
			prompt.WithMaxExcerpts(cfg.Context.MaxExcerpts),
			prompt.WithInstructions(llm.ResponseFormat),
		),
		gateway,
		executor.New(
			executor.WithStepTimeout(cfg.Executor.StepTimeout),
			executor.WithOutputLimit(cfg.Executor.OutputLimit),
			executor.WithAuditStore(audit),
			executor.WithLogger(logger),
		),
		agent.WithLogger(logger),
	)

	mcpServer := kokoromcp.NewServer(dispatcher, cfg.Agent.Name, version, logger)
	if stdio {
		return mcpServer.ServeStdio()
	}

	apiServer := api.New(dispatcher, logger)
	apiServer.Name = cfg.Agent.Name
	apiServer.Version = version

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Serve(ctx, cfg.API.Bind)
	})
	if cfg.MCP.Enabled {
		g.Go(func() error {
			return mcpServer.ServeSSE(ctx, cfg.MCP.Bind)
		})
	}
	g.Go(func() error {
		return reloadOnHangup(ctx, dispatcher, logger)
	})

	logger.Info("kokoro running",
		slog.String("data", dataDir),
		slog.String("api", cfg.API.Bind),
		slog.Bool("mcp", cfg.MCP.Enabled))
	return g.Wait()
}

// reloadOnHangup re-reads the skill directory on SIGHUP until ctx is
// cancelled.
func reloadOnHangup(ctx context.Context, dispatcher *agent.Dispatcher, logger *slog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := dispatcher.ReloadSkills(ctx); err != nil {
				logger.Error("skill reload failed", slog.Any("error", err))
			}
		}
	}
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		opts := []llm.AnthropicOption{
			llm.WithAnthropicModel(cfg.LLM.Model),
			llm.WithAnthropicMaxTokens(int64(cfg.LLM.MaxTokens)),
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, llm.WithAnthropicBaseURL(cfg.LLM.BaseURL))
		}
		if cfg.LLM.APIKey != "" {
			opts = append(opts, llm.WithAnthropicAPIKey(cfg.LLM.APIKey))
		}
		return llm.NewAnthropic(opts...), nil
	case "openai":
		opts := []llm.OpenAIOption{
			llm.WithOpenAIModel(cfg.LLM.Model),
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(cfg.LLM.BaseURL))
		}
		if cfg.LLM.APIKey != "" {
			opts = append(opts, llm.WithOpenAIAPIKey(cfg.LLM.APIKey))
		}
		return llm.NewOpenAI(opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
}
