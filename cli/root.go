package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallnest/clawgate/agent"
	"github.com/smallnest/clawgate/browser"
	"github.com/smallnest/clawgate/channels"
	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/cron"
	"github.com/smallnest/clawgate/gateway"
	"github.com/smallnest/clawgate/internal/logger"
	"github.com/smallnest/clawgate/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "clawgate",
	Short: "WebSocket gateway for terminal AI agents",
	Long:  `clawgate wraps a terminal AI agent CLI (claude, codex) behind a session-oriented WebSocket gateway with streaming responses, scheduled jobs, and notification channels.`,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway daemon",
	Run:   runStart,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run:   runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Run:   runConfigInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("clawgate", Version)
	},
}

var cfgPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// runStart wires every subsystem together and blocks until a signal.
func runStart(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting clawgate", zap.String("version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := agent.ProviderByName(cfg.Agent.Provider)
	if err != nil {
		logger.Fatal("Invalid agent provider", zap.Error(err))
	}

	runner := agent.NewRunner(provider,
		agent.WithBinary(cfg.Agent.Binary),
		agent.WithModel(cfg.Agent.Model),
		agent.WithWorkingDir(cfg.Agent.WorkingDir),
		agent.WithTimeout(cfg.Agent.Timeout),
		agent.WithPTY(cfg.Agent.UsePTY),
	)

	sessions := session.NewDirectory(cfg.Session.TTL)
	chat := gateway.NewChatService(runner, sessions, cfg.Queue.MaxPending)
	channelMgr := channels.NewManager(cfg.Channels)

	var browserCtl browser.Controller
	if cfg.Browser.Enabled {
		browserCtl, err = browser.New(ctx, cfg.Browser)
		if err != nil {
			logger.Warn("Browser control unavailable", zap.Error(err))
			browserCtl = nil
		}
	}

	var cronSvc *cron.Service
	if cfg.Cron.Enabled {
		cronSvc = startCron(ctx, cfg, chat, channelMgr)
		if cronSvc != nil {
			defer cronSvc.Stop()
		}
	}

	handler := gateway.NewHandler(chat, sessions, cronSvc, channelMgr, browserCtl)
	server := gateway.NewServer(cfg.Gateway, handler)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
		cancel()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			logger.Fatal("Gateway server failed", zap.Error(err))
		}
	}

	logger.Info("clawgate stopped")
}

// startCron builds the scheduler against the shared chat service so agent
// jobs serialize through the same lane queue as interactive runs.
func startCron(ctx context.Context, cfg *config.Config, chat *gateway.ChatService, channelMgr *channels.Manager) *cron.Service {
	store, err := cron.NewStore(cfg.Cron.StorePath)
	if err != nil {
		logger.Error("Cron store unavailable, scheduler disabled", zap.Error(err))
		return nil
	}
	runs, err := cron.NewRunStore(cfg.Cron.RunLogPath)
	if err != nil {
		logger.Error("Cron run log unavailable, scheduler disabled", zap.Error(err))
		return nil
	}

	executor := cron.NewExecutor(chat, channelMgr, runs, cfg.Cron.DefaultTimeout)
	svc, err := cron.NewService(store, runs, executor)
	if err != nil {
		logger.Error("Cron service failed to load, scheduler disabled", zap.Error(err))
		return nil
	}
	svc.Start(ctx)
	logger.Info("Cron scheduler started", zap.Int("jobs", len(svc.List())))
	return svc
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(data))
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := cfgPath
	if path == "" {
		var err error
		path, err = config.GetDefaultConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to determine config path: %v\n", err)
			os.Exit(1)
		}
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", path)
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build default config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg, path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)
}
