package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/callqueue/internal/audit"
	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/claim"
	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/metrics"
	"github.com/fentz26/callqueue/internal/refresh"
	"github.com/fentz26/callqueue/internal/store/httpstore"
	"github.com/fentz26/callqueue/internal/tui"
)

var consoleCmd = &cobra.Command{
	Use:     "console",
	Aliases: []string{"tui"},
	Short:   "Launch the operator console",
	RunE:    runConsole,
}

var (
	noAutostart bool
	metricsAddr string
)

func init() {
	consoleCmd.Flags().BoolVar(&noAutostart, "no-autostart", false, "do not start a local record server for the http backend")
	consoleCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve console metrics on this address")
}

func runConsole(cmd *cobra.Command, args []string) error {
	operator, err := currentOperator()
	if err != nil {
		return err
	}

	logger, err := logging.NewFile(cfg.LogFile(), cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger = logger.WithOperator(operator)

	if cfg.Store.Backend == "http" && !noAutostart && !isServerRunning(cfg.Store.APIURL) {
		fmt.Println("⚡ Record server not running. Starting background service...")
		if err := startServer(cfg.Store.APIURL); err != nil {
			return fmt.Errorf("failed to start record server: %w", err)
		}
	}

	b, err := openBackend(cfg, operator)
	if err != nil {
		return err
	}
	defer b.Close()

	sink, err := b.auditSink()
	if err != nil {
		return err
	}
	pub, sub := b.realtimeFor(cfg, logger)

	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New()
		go func() {
			srv := &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cache.New(b.store, operator, cache.WithLogger(logger))
	coord := claim.New(b.store, c, operator,
		claim.WithConfig(cfg.Claim.Coordinator()),
		claim.WithLogger(logger),
		claim.WithPublisher(pub),
		claim.WithAuditor(audit.NewWriter(sink)),
		claim.WithMetrics(m),
	)
	defer coord.Close()

	app := tui.New(c, coord,
		tui.WithLogger(logger),
		tui.WithOperators(knownOperators(ctx, b.store, cfg.Operator.Known)),
	)
	sched := refresh.New(c, operator,
		refresh.WithConfig(cfg.Refresh),
		refresh.WithLogger(logger),
		refresh.WithMetrics(m),
		refresh.WithDialogGate(app.DialogOpen),
		refresh.WithFocus(app.Focused),
		refresh.WithLastDataUpdate(c.LastDataChange),
		refresh.WithVisibilitySupport(true),
	)
	coord.SetReloader(sched)
	app.SetScheduler(sched)

	sched.Start()
	defer sched.Stop()

	if sub != nil {
		go func() {
			if err := sched.Hints().Run(ctx, sub); err != nil && ctx.Err() == nil {
				logger.Warn("realtime subscription ended", "error", err)
			}
		}()
	}

	logger.Info("console started", "backend", cfg.Store.Backend, "realtime", cfg.RealtimeTransport())
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}

func isServerRunning(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ok, err := httpstore.NewClient(baseURL, "").CheckHealth(ctx)
	return err == nil && ok
}

// startServer launches "callqueue serve" detached so it outlives the console.
func startServer(baseURL string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"serve", "--backend", "sqlite"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	cmd := exec.Command(exe, args...)
	configureServerProc(cmd)

	// keep the child off the terminal the console is about to draw on
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for record server...")
	for i := 0; i < 20; i++ {
		if isServerRunning(baseURL) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("record server started but not reachable at %s", baseURL)
}
