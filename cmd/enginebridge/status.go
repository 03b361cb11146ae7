package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/enginebridge/internal/config"
	"github.com/dshills/enginebridge/internal/integration"
)

var (
	labelStyle     = lipgloss.NewStyle().Bold(true).Width(18)
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	degradedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Start the engine and report the bridge's health",
		Long: `status connects to the engine eagerly and prints a health report. With
--follow it keeps running, printing a new report on every engine event and
re-reading the configuration file when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), flags, cmd.OutOrStdout(), follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reporting until interrupted")
	return cmd
}

func runStatus(ctx context.Context, flags *globalFlags, out io.Writer, follow bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := flags.open()
	if err != nil {
		return err
	}
	defer s.Close()

	startErr := s.manager.Start(ctx)
	printHealth(out, s.manager.Health())
	if !follow {
		return startErr
	}
	if startErr != nil {
		s.logger.Warn("engine did not start", "err", startErr)
	}

	updates := make(chan struct{}, 1)
	notify := func(map[string]any) {
		select {
		case updates <- struct{}{}:
		default:
		}
	}
	s.bus.Subscribe("engine.*", notify)
	s.bus.Subscribe("channel.*", notify)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-updates:
				printHealth(out, s.manager.Health())
			}
		}
	})
	if flags.configPath != "" {
		g.Go(func() error {
			return watchConfig(gctx, flags.configPath, s.logger)
		})
	}
	return g.Wait()
}

// watchConfig follows the configuration file until ctx ends. SIGHUP reloads
// it at once. The log level applies immediately; everything else needs a
// restart.
func watchConfig(ctx context.Context, path string, logger *log.Logger) error {
	w := config.NewWatcher(path, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Error("configuration reload failed", "path", path, "err", err)
			return
		}
		if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
			logger.SetLevel(level)
		}
		logger.Info("configuration reloaded, restart to apply engine and channel changes", "path", path)
	}, config.WithWatcherLogger(logger.WithPrefix("config")))

	if err := w.Start(); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return w.Close()
		case <-hup:
			w.Reload()
		}
	}
}

func printHealth(out io.Writer, h integration.HealthStatus) {
	row := func(label string, value any) {
		fmt.Fprintln(out, labelStyle.Render(label)+fmt.Sprint(value))
	}

	row("status", styleStatus(h.Status))
	row("engine", h.EngineState)
	if h.Generation != "" {
		row("generation", h.Generation)
	}
	row("connected", h.Connected)
	row("pending requests", h.PendingRequests)
	row("active progress", h.ActiveProgress)
	row("restarts", h.Restarts)
	row("uptime", h.Uptime.Round(time.Millisecond))
	if h.LastError != "" {
		row("last error", h.LastError)
	}

	names := make([]string, 0, len(h.Components))
	for name := range h.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := h.Components[name]
		row("  "+name, styleStatus(c.Status)+" "+c.Message)
	}
	fmt.Fprintln(out)
}

func styleStatus(s integration.Status) string {
	switch s {
	case integration.StatusHealthy:
		return healthyStyle.Render(s.String())
	case integration.StatusDegraded:
		return degradedStyle.Render(s.String())
	default:
		return unhealthyStyle.Render(s.String())
	}
}
