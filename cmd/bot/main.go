package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smartsmeta.app/bot/common/id"
	"smartsmeta.app/bot/common/llm"
	"smartsmeta.app/bot/common/logger"
	"smartsmeta.app/bot/common/otel"
	"smartsmeta.app/bot/core/config"
	"smartsmeta.app/bot/internal/dialogue"
	"smartsmeta.app/bot/internal/estimate"
	"smartsmeta.app/bot/internal/gpt"
	"smartsmeta.app/bot/internal/http/handler"
	httprouter "smartsmeta.app/bot/internal/http/router"
	"smartsmeta.app/bot/internal/render"
	"smartsmeta.app/bot/internal/session"
	"smartsmeta.app/bot/internal/transport/telegram"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "smeta bot starting",
		"env", cfg.Env,
		"version", cfg.Version,
		"model", cfg.OpenAI.Model,
		"session_backend", cfg.Session.Backend)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := session.Open(ctx, cfg.Session)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open session store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	client, err := llm.New(llm.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		Model:           cfg.OpenAI.Model,
		MaxTokens:       cfg.OpenAI.MaxTokens,
		ReasoningEffort: llm.ReasoningEffort(cfg.OpenAI.ReasoningEffort),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	htmlRenderer, err := render.NewHTMLRenderer()
	if err != nil {
		slog.ErrorContext(ctx, "failed to create html renderer", "error", err)
		os.Exit(1)
	}
	renderers, err := render.ForFormats(cfg.Render.Formats,
		htmlRenderer,
		render.NewPDFRenderer(cfg.Render.PDFFontPath),
		render.NewXLSXRenderer(),
	)
	if err != nil {
		slog.ErrorContext(ctx, "invalid render formats", "error", err)
		os.Exit(1)
	}

	rates := ratesFromConfig(cfg.Rates)
	machine := dialogue.New(dialogue.Config{
		Store:        store,
		Exchanger:    gpt.NewAdapter(client),
		Renderers:    renderers,
		DefaultRates: rates,
		KeepAlive:    cfg.Dialogue.KeepAliveInterval,
		Version:      cfg.Version,
	})

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to telegram", "error", err)
		os.Exit(1)
	}
	api.Debug = cfg.Telegram.Debug
	slog.InfoContext(ctx, "telegram connected", "username", api.Self.UserName)

	bot := telegram.New(api, machine)
	if err := bot.RegisterCommands(ctx); err != nil {
		slog.WarnContext(ctx, "failed to register bot commands", "error", err)
	}

	formats := make([]string, len(renderers))
	for i, r := range renderers {
		formats[i] = r.Format()
	}
	router := httprouter.New(handler.NewStatusHandler(cfg.Version, rates, formats), httprouter.RouterConfig{
		ServiceName:  cfg.OTel.ServiceName,
		OTelEnabled:  cfg.OTel.Enabled(),
		IsProduction: cfg.IsProduction(),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.PollTimeout
	updates := api.GetUpdatesChan(u)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	errCh := make(chan error, 1)
	go func() {
		errCh <- bot.Run(runCtx, updates)
	}()

	slog.InfoContext(ctx, "bot initialized and polling")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop polling first, then let in-flight conversations finish. The
	// pending long poll is not awaited; its updates are dropped.
	api.StopReceivingUpdates()
	bot.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
		stopRun()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			slog.WarnContext(ctx, "handlers still running after cancellation")
		}
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "bot error during shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func ratesFromConfig(cfg []config.RateConfig) estimate.Rates {
	rates := make(estimate.Rates, len(cfg))
	for i, r := range cfg {
		rates[i] = estimate.Rate{Role: r.Role, Rate: r.Rate}
	}
	return rates
}

const banner = `
███████╗███╗   ███╗███████╗████████╗ █████╗     ██████╗  ██████╗ ████████╗
██╔════╝████╗ ████║██╔════╝╚══██╔══╝██╔══██╗    ██╔══██╗██╔═══██╗╚══██╔══╝
███████╗██╔████╔██║█████╗     ██║   ███████║    ██████╔╝██║   ██║   ██║   
╚════██║██║╚██╔╝██║██╔══╝     ██║   ██╔══██║    ██╔══██╗██║   ██║   ██║   
███████║██║ ╚═╝ ██║███████╗   ██║   ██║  ██║    ██████╔╝╚██████╔╝   ██║   
╚══════╝╚═╝     ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═╝    ╚═════╝  ╚═════╝    ╚═╝   
`
