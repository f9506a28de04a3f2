package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/daxia778/tg-monitor/internal/alerts"
	"github.com/daxia778/tg-monitor/internal/config"
	"github.com/daxia778/tg-monitor/internal/ingest"
	"github.com/daxia778/tg-monitor/internal/llm"
	"github.com/daxia778/tg-monitor/internal/notify"
	"github.com/daxia778/tg-monitor/internal/sessionpool"
	"github.com/daxia778/tg-monitor/internal/store"
	"github.com/daxia778/tg-monitor/internal/summarizer"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the monitor: session pool, alert engine, scheduled reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context())
		},
	}
}

func setupLogging() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

func runRun(ctx context.Context) error {
	log := setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error("config problem", "error", e)
		}
		return fmt.Errorf("invalid configuration, see above")
	}

	st, err := store.Open(ctx, cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.SetSettingBool(ctx, "alerts_enabled", cfg.Alerts.Enabled); err != nil {
		log.Warn("failed to seed alerts_enabled setting", "error", err)
	}

	sender := notify.NewSender(cfg.Telegram.BotToken, log)
	engine := alerts.New(alerts.Config{
		OwnerChatID: cfg.Telegram.OwnerChatID,
		Keywords:    cfg.Alerts.Keywords,
	}, sender, st, log)
	engine.LoadFromStore(ctx)

	if err := ensureBootstrapTenant(ctx, st, cfg, log); err != nil {
		return fmt.Errorf("bootstrap tenant: %w", err)
	}

	groups := make([]ingest.GroupConfig, len(cfg.Groups))
	for i, g := range cfg.Groups {
		groups[i] = ingest.GroupConfig{ID: g.ID, Username: g.Username}
	}

	pool := sessionpool.New(st, engine, groups, cfg.Monitoring.KeepDays, log)
	if err := pool.StartAll(ctx); err != nil {
		return fmt.Errorf("start session pool: %w", err)
	}
	defer pool.StopAll()

	llmClient := llm.NewClient(cfg.AI.APIURL)
	llmPool := llm.NewPool(llmClient, llm.PoolConfig{
		Keys:              cfg.AI.Keys(),
		PerKeyConcurrency: cfg.AI.MaxConcurrentPerKey,
		PerKeyRPS:         cfg.AI.PerKeyRPS,
		Model:             cfg.AI.Model,
		MaxTokens:         cfg.AI.MaxTokens,
	}, log)
	summ := summarizer.New(st, llmPool, "", cfg.AI.Model, log)

	watchConfig(ctx, cfgPath, st, log)

	if cfg.ScheduledPush.Enabled {
		go runScheduledPush(ctx, cfg, st, summ, sender, log)
	}

	log.Info("tg-monitor running", "groups", len(groups))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info("shutting down")
	return nil
}

// ensureBootstrapTenant registers the config-supplied bot token as Tenant
// #1 the first time the monitor runs against a fresh database, so a single
// BOT_TOKEN env var is enough to get going without a separate onboarding
// step. Existing tenants are left untouched.
func ensureBootstrapTenant(ctx context.Context, st *store.Store, cfg *config.Config, log *slog.Logger) error {
	tenants, err := st.GetTenants(ctx, false)
	if err != nil {
		return err
	}
	if len(tenants) > 0 {
		return nil
	}
	if cfg.Telegram.BotToken == "" {
		return nil
	}
	id, err := st.AddTenant(ctx, 0, cfg.Telegram.BotToken, "", "bootstrap")
	if err != nil {
		return err
	}
	log.Info("bootstrap tenant registered", "tenant_id", id)
	return nil
}

// watchConfig watches the config file for edits and pushes runtime-toggle
// fields (currently alerts_enabled) into Store's settings table, so an
// operator can flip alerts on/off by editing the file without a restart —
// the Alert Engine already re-reads that setting on every Check call.
func watchConfig(ctx context.Context, path string, st *store.Store, log *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config watcher unavailable", "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		log.Debug("config file not watchable yet", "path", path, "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := config.Load(path)
				if err != nil {
					log.Warn("config reload failed", "error", err)
					continue
				}
				if err := st.SetSettingBool(ctx, "alerts_enabled", cfg.Alerts.Enabled); err != nil {
					log.Warn("failed to apply reloaded alerts_enabled", "error", err)
					continue
				}
				log.Info("config reloaded", "alerts_enabled", cfg.Alerts.Enabled)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()
}

// runScheduledPush polls the configured cron expression once a minute and
// fires a daily report to the owner chat whenever it matches, skipping a
// re-fire within the same minute.
func runScheduledPush(ctx context.Context, cfg *config.Config, st *store.Store, summ *summarizer.Summarizer, sender *notify.Sender, log *slog.Logger) {
	expr := cfg.ScheduledPush.Cron
	if expr == "" {
		expr = "0 8 * * *"
	}
	gron := gronx.New()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastFired time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(expr, now)
			if err != nil {
				log.Error("invalid scheduled_push.cron expression", "expr", expr, "error", err)
				continue
			}
			if !due || now.Truncate(time.Minute).Equal(lastFired) {
				continue
			}
			lastFired = now.Truncate(time.Minute)

			log.Info("running scheduled daily report")
			report, err := summ.DailyReport(ctx)
			if err != nil {
				log.Error("scheduled report failed", "error", err)
				if cfg.Telegram.OwnerChatID != "" {
					notice := fmt.Sprintf("❌ scheduled daily report failed: %v", err)
					if serr := sender.Send(ctx, notify.Notification{ChatID: cfg.Telegram.OwnerChatID, Text: notice}); serr != nil {
						log.Error("scheduled report failure notice failed", "error", serr)
					}
				}
				continue
			}
			if cfg.Telegram.OwnerChatID == "" {
				continue
			}
			if err := sender.Send(ctx, notify.Notification{ChatID: cfg.Telegram.OwnerChatID, Text: report}); err != nil {
				log.Error("scheduled report push failed", "error", err)
			}
			_ = st // retained for future per-run bookkeeping against the store
		}
	}
}
