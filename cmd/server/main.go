package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	defaults "github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/internal/analysis"
	"github.com/vinodismyname/excelask/internal/answer"
	"github.com/vinodismyname/excelask/internal/config"
	"github.com/vinodismyname/excelask/internal/httpapi"
	"github.com/vinodismyname/excelask/internal/intake"
	"github.com/vinodismyname/excelask/internal/registry"
	"github.com/vinodismyname/excelask/internal/runtime"
	"github.com/vinodismyname/excelask/internal/security"
	"github.com/vinodismyname/excelask/internal/telemetry"
	"github.com/vinodismyname/excelask/internal/workbooks"
	"github.com/vinodismyname/excelask/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		configPath      string
		useStdio        bool
		shutdownTimeout time.Duration
	)

	flag.StringVar(&configPath, "config", "", "Optional TOML configuration file")
	flag.BoolVar(&useStdio, "stdio", false, "Serve MCP tools over stdio instead of HTTP")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", defaults.DefaultShutdownTimeout, "Graceful shutdown timeout")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Server.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	// stdout belongs to the MCP transport in stdio mode.
	logger := zlog.Output(os.Stderr).With().Str("service", "excelask").Logger()
	ctx := logger.WithContext(context.Background())

	scratch, err := security.EnsureScratchDir(cfg.Workbook.ScratchDir)
	if err != nil {
		logger.Error().Err(err).Msg("scratch directory unavailable")
		os.Exit(1)
	}
	scratchGuard, err := security.NewManager([]string{scratch}, nil)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize scratch manager")
		os.Exit(1)
	}

	limits := runtime.NewLimits(cfg.Limits.MaxConcurrentRequests, cfg.Limits.MaxOpenWorkbooks)
	limits.OperationTimeout = cfg.Limits.OperationTimeout
	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController)

	model, err := answer.NewModel(cfg.LLM)
	if err != nil {
		logger.Error().Err(err).Msg("completion driver initialization failed")
		os.Exit(1)
	}
	answerer := answer.NewClient(model, cfg.LLM.Model,
		answer.WithMaxTokens(cfg.LLM.MaxTokens),
		answer.WithTemperature(cfg.LLM.Temperature),
	)

	summarizer := workbooks.NewSummarizer(scratch, cfg.Workbook.SheetToken,
		workbooks.WithGate(runtimeController),
		workbooks.WithPathValidator(scratchGuard),
	)
	svc := analysis.New(
		intake.New(limits.MaxUploadBytes),
		summarizer,
		answerer,
		analysis.WithTelemetry(telemetry.NewHooks(logger)),
	)

	toolRegistry := registry.New()

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Str("model", cfg.LLM.Model).
		Str("driver", cfg.LLM.Driver).
		Bool("ai_connected", cfg.AIConnected()).
		Str("sheet_token", cfg.Workbook.SheetToken).
		Str("scratch_dir", scratch).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_workbooks", limits.MaxOpenWorkbooks).
		Int("model_context_size", toolRegistry.ModelContextSize(cfg.LLM.Model)).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if useStdio {
		if err := serveStdio(cfg, logger, svc, runtimeMW, toolRegistry); err != nil {
			// Use stderr for transport errors so clients don't misinterpret output
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := serveHTTP(ctx, cfg, logger, svc, runtimeMW, shutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("http server stopped")
		os.Exit(1)
	}
}

func serveStdio(cfg *config.Config, logger zerolog.Logger, svc *analysis.Service, mw *runtime.Middleware, reg *registry.Registry) error {
	secMgr, err := security.NewManager(cfg.MCP.AllowedDirs, nil)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		return fmt.Errorf("%w; set EXCELASK_ALLOWED_DIRS", err)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	askFilter := registry.NewAskToolFilter(cfg.AIConnected())

	srv := server.NewMCPServer(
		version.Name,
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(telemetry.MCPHooks(logger)),
		server.WithToolHandlerMiddleware(mw.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return askFilter.FilterTools(ctx, tools) }),
	)
	registry.RegisterSpreadsheetTools(reg, svc, secMgr)
	reg.Attach(srv)

	return server.ServeStdio(srv)
}

func serveHTTP(ctx context.Context, cfg *config.Config, logger zerolog.Logger, svc *analysis.Service, mw *runtime.Middleware, shutdownTimeout time.Duration) error {
	e := httpapi.New(httpapi.Options{
		Service:     svc,
		Limiter:     mw.HTTP,
		Logger:      logger,
		Debug:       cfg.Server.Debug,
		AIConnected: cfg.AIConnected(),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Bool("debug", cfg.Server.Debug).Msg("http server listening")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
