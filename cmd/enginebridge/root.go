package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/enginebridge/internal/config"
	"github.com/dshills/enginebridge/internal/integration"
	"github.com/dshills/enginebridge/internal/logging"
	"github.com/dshills/enginebridge/internal/progress"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "enginebridge",
		Short: "Talk to a script engine over a request/response channel",
		Long: `enginebridge starts a script engine as a child process (or reaches one
over a socket), sends it requests and reports the progress it emits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to a TOML or YAML configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format override (text, json, logfmt)")

	root.AddCommand(
		newCallCmd(flags),
		newTerminalCmd(flags),
		newStatusCmd(flags),
		newVersionCmd(),
	)
	return root
}

// session is a loaded configuration with its logger and manager.
type session struct {
	cfg     *config.Config
	logs    *logging.Runtime
	logger  *log.Logger
	bus     *integration.EventBus
	manager *integration.Manager
}

// loadConfig applies the file, the environment and the command-line
// overrides, in that order.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *globalFlags) open(opts ...integration.ManagerOption) (*session, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}

	logs, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	logger := logs.Logger

	bus := integration.NewEventBus(logger)
	bus.Subscribe("engine.*", func(data map[string]any) {
		logger.Debug("engine event", "event", data["event"], "data", data)
	})

	base := []integration.ManagerOption{
		integration.WithLogger(logger),
		integration.WithEventBus(bus),
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		base = append(base, integration.WithIndicator(progress.NewConsoleIndicator(os.Stderr)))
	}
	base = append(base, integration.WithNotifier(progress.NewLogNotifier(logging.Component(logger, "progress"))))

	mgr, err := integration.NewManager(cfg, append(base, opts...)...)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	return &session{cfg: cfg, logs: logs, logger: logger, bus: bus, manager: mgr}, nil
}

func (s *session) Close() error {
	err := s.manager.Close()
	s.bus.Close()
	if cerr := s.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "enginebridge %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
