package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/tftpd-aio/internal/config"
	"github.com/example/tftpd-aio/internal/server"
	"github.com/example/tftpd-aio/internal/utils"
)

var (
	cfg *config.Config

	configFile   string
	rootPath     string
	host         string
	port         int
	filename     string
	filenameGet  string
	filenamePut  string
	privsepUser  string
	privsepGroup string
	umask        string
	logLevel     string
	logFormat    string
	dryRun       bool
)

var rootCmd = &cobra.Command{
	Use:   "tftpd [root-path]",
	Short: "A TFTP (RFC 1350) server",
	Long: `tftpd-aio is a single-protocol TFTP server with templated path
mapping, directory-traversal-safe filename sandboxing, and a watchdog-driven
retransmit/timeout loop.

Examples:
  tftpd ./data
  tftpd --root-path=./data --port=6969 --user=tftpd --group=tftpd
  tftpd --config=config.yml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "Address to bind (default: all interfaces)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "UDP port to listen on (default: 69)")
	rootCmd.PersistentFlags().StringVar(&rootPath, "root-path", "", "Root directory files are served from and written to")
	rootCmd.PersistentFlags().StringVar(&filename, "filename", "", "Path template applied to both RRQ and WRQ")
	rootCmd.PersistentFlags().StringVar(&filenameGet, "filename-get", "", "Path template applied to RRQ only, overrides --filename")
	rootCmd.PersistentFlags().StringVar(&filenamePut, "filename-put", "", "Path template applied to WRQ only, overrides --filename")
	rootCmd.PersistentFlags().StringVar(&privsepUser, "user", "", "Drop to this user after binding the socket")
	rootCmd.PersistentFlags().StringVar(&privsepGroup, "group", "", "Drop to this group after binding the socket")
	rootCmd.PersistentFlags().StringVar(&umask, "umask", "", "Octal umask applied after privilege drop")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit without binding a socket")
}

func runServer(cmd *cobra.Command, args []string) error {
	var err error

	if len(args) > 0 {
		rootPath = args[0]
	}

	cfg, err = loadConfiguration()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := applyCLIFlags(cfg); err != nil {
		return fmt.Errorf("failed to apply CLI flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if dryRun {
		fmt.Printf("configuration OK: root_path=%s host=%s port=%d\n", cfg.RootPath, cfg.Host, cfg.Port)
		return nil
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting tftpd-aio server...")
	logger.Info("Root path: %s", cfg.RootPath)
	logger.Info("Listening on %s:%d", cfg.Host, cfg.Port)

	manager := server.NewManager(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	utils.GracefulShutdown(ctx, cancel, logger, func() error {
		return manager.Stop()
	})

	return nil
}

func loadConfiguration() (*config.Config, error) {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvironmentVariables()

	return cfg, nil
}

func applyCLIFlags(cfg *config.Config) error {
	if rootPath != "" {
		cfg.RootPath = rootPath
	}
	if host != "" {
		cfg.Host = host
	}
	if port > 0 {
		cfg.Port = port
	}
	if filename != "" {
		cfg.Paths.Default = filename
	}
	if filenameGet != "" {
		cfg.Paths.Get = filenameGet
	}
	if filenamePut != "" {
		cfg.Paths.Put = filenamePut
	}
	if privsepUser != "" {
		cfg.Privsep.User = privsepUser
	}
	if privsepGroup != "" {
		cfg.Privsep.Group = privsepGroup
	}
	if umask != "" {
		cfg.Privsep.Umask = umask
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
