package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slighter12/isocity-host-go/config"
	"github.com/slighter12/isocity-host-go/host"
	"github.com/slighter12/isocity-host-go/lifecycle"
	"github.com/slighter12/isocity-host-go/logger"
	"github.com/slighter12/isocity-host-go/settings"
)

var rootCmd = &cobra.Command{
	Use:          "isocity-host",
	Short:        "Native host bridge for the IsoCity web build",
	RunE:         runServe,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web build and bridge the hosted page",
	RunE:  runServe,
}

var resolveURLCmd = &cobra.Command{
	Use:   "resolve-url",
	Short: "Print the URL the page would be loaded from",
	RunE:  runResolveURL,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file if none exists",
	RunE:  runInitConfig,
}

var (
	flagConfigPath string
	flagBaseDir    string
	flagStdio      bool
	flagDebug      bool

	flagBaseURL      string
	flagEntry        string
	flagGesture      string
	flagDevURL       string
	flagUseDevServer bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file (default $ISOCITY_CONFIG_PATH, config/host_config.json or ~/.isocity-host/config/host_config.json)")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		flags := cmd.Flags()
		flags.StringVar(&flagBaseDir, "base-dir", "", "directory a relative web root resolves against (default working directory)")
		flags.BoolVar(&flagStdio, "stdio", false, "also accept the page over stdin/stdout")
		flags.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	}

	flags := resolveURLCmd.Flags()
	flags.StringVar(&flagBaseURL, "base-url", fmt.Sprintf("http://127.0.0.1:%d", config.DefaultStaticPort), "static server origin")
	flags.StringVar(&flagEntry, "entry", "index.html", "entry page under the static server")
	flags.StringVar(&flagGesture, "gesture", settings.GestureWeb, "gesture mode (web or native)")
	flags.StringVar(&flagDevURL, "dev-url", settings.DefaultDevURL, "development server URL")
	flags.BoolVar(&flagUseDevServer, "use-dev-server", false, "load from the development server")

	rootCmd.AddCommand(serveCmd, resolveURLCmd, initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() (string, error) {
	if flagConfigPath != "" {
		return flagConfigPath, nil
	}
	return config.ResolveConfigPath()
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := config.EnsureDefaultConfig(path); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if flagStdio {
		enableStdio(cfg)
	}
	if flagDebug {
		cfg.Server.Debug = true
	}

	level := logger.GetLevelFromString(cfg.Logging.Level)
	if cfg.Server.Debug {
		level = logger.GetLevelFromString("debug")
	}
	console := os.Stdout
	if cfg.TransportEnabled(config.TransportStdio) {
		console = os.Stderr
	}
	if err := logger.InitTo(console, level, logger.Format(cfg.Logging.Format), cfg.Logging.Path); err != nil {
		log.Printf("Failed to initialize logger: %+v", err)
		return err
	}
	defer logger.Default().Close()
	logger.Debug("Configuration loaded", "path", path, "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := host.New(cfg, flagBaseDir)
	if err != nil {
		logger.Error("Failed to build host", "error", err)
		return err
	}
	if err := h.Run(ctx); err != nil {
		if errors.Is(err, host.ErrStdioClosed) {
			logger.Info("Stdio peer closed, shutting down")
			return nil
		}
		logger.Error("Host error", "error", err)
		return err
	}
	return nil
}

func enableStdio(cfg *config.Config) {
	for i := range cfg.Transports {
		if cfg.Transports[i].Type == config.TransportStdio {
			cfg.Transports[i].Enabled = true
			return
		}
	}
	cfg.Transports = append(cfg.Transports, config.Transport{Type: config.TransportStdio, Enabled: true})
}

func runResolveURL(cmd *cobra.Command, args []string) error {
	source := settings.HostSettings{
		DevURL:       flagDevURL,
		UseDevServer: flagUseDevServer,
		GestureMode:  flagGesture,
	}
	source.Normalize()
	if err := source.Validate(); err != nil {
		return err
	}
	gameURL := strings.TrimRight(flagBaseURL, "/") + "/" + strings.TrimLeft(flagEntry, "/")
	if source.UseDevServer {
		gameURL = source.DevURL
	}
	resolved := lifecycle.LoadConfiguration{GameURL: gameURL, GestureMode: source.GestureMode}.ResolvedURL()
	fmt.Fprintln(cmd.OutOrStdout(), resolved)
	return nil
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := config.EnsureDefaultConfig(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
