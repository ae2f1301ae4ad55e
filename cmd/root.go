package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AbdelilahOu/mysqlmcp/internal/config"
	"github.com/AbdelilahOu/mysqlmcp/internal/logger"
	"github.com/AbdelilahOu/mysqlmcp/internal/server"
)

var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:               "mysql-mcp-server",
	Short:             "Read-only MySQL gateway for MCP clients",
	Long:              `A Model Context Protocol (MCP) server exposing a read-only query tool and per-table schema resources for one MySQL database.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { _ = logger.Shutdown() },
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a mysql-mcp.yaml config file")
	flags.String("host", "", "MySQL host (env MYSQL_HOST)")
	flags.Int("port", 0, "MySQL port (env MYSQL_PORT)")
	flags.String("user", "", "MySQL user (env MYSQL_USER)")
	flags.String("password", "", "MySQL password (env MYSQL_PASSWORD)")
	flags.String("database", "", "MySQL database (env MYSQL_DATABASE)")
	flags.Int("pool-size", 0, "Maximum open connections (env MYSQL_POOL_SIZE)")
	flags.Int("max-rows", 0, "Maximum rows returned per query, 0 for no cap (env MCP_MAX_ROWS)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (env MCP_LOG_LEVEL)")
	flags.String("log-format", "", "Log format: console or json (env MCP_LOG_FORMAT)")
	flags.String("log-file", "", "Write logs to this file instead of stderr (env MCP_LOG_FILE)")

	// Subcommand: stdio (local transport, like IDE integration)
	stdioCmd := &cobra.Command{
		Use:   "stdio",
		Short: "Run over stdio transport (for local MCP clients)",
		RunE:  runStdioServer,
	}
	rootCmd.AddCommand(stdioCmd)

	// Subcommand: http (streamable HTTP plus /healthz and /metrics)
	httpCmd := &cobra.Command{
		Use:   "http",
		Short: "Run over HTTP transport (for remote clients)",
		RunE:  runHTTPServer,
	}
	httpCmd.Flags().String("addr", "", "Listen address (env MCP_HTTP_ADDR)")
	rootCmd.AddCommand(httpCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the database is reachable and list its tables",
		RunE:  runCheck,
	}
	rootCmd.AddCommand(checkCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), loaded)
	if err := loaded.Validate(); err != nil {
		return err
	}

	if err := logger.Initialize(logger.Config{
		Level:      logger.ParseLogLevel(loaded.Logging.Level),
		Format:     loaded.Logging.Format,
		OutputFile: loaded.Logging.File,
		MaxSize:    loaded.Logging.MaxSize,
	}); err != nil {
		return err
	}
	if loaded.Source != "" {
		logger.Debug("Loaded configuration", map[string]interface{}{"path": loaded.Source})
	}

	cfg = loaded
	return nil
}

// applyFlags overrides configuration values with explicitly set flags.
func applyFlags(flags *pflag.FlagSet, c *config.Config) {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	str("host", &c.MySQL.Host)
	num("port", &c.MySQL.Port)
	str("user", &c.MySQL.User)
	str("password", &c.MySQL.Password)
	str("database", &c.MySQL.Database)
	num("pool-size", &c.MySQL.PoolSize)
	num("max-rows", &c.Server.MaxRows)
	str("log-level", &c.Logging.Level)
	str("log-format", &c.Logging.Format)
	str("log-file", &c.Logging.File)
	str("addr", &c.Server.HTTPAddr)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runStdioServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	srv, err := server.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	return srv.RunStdio(ctx)
}

func runHTTPServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	srv, err := server.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	return srv.RunHTTP(ctx, cfg.Server.HTTPAddr)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.MySQL.AcquireTimeout+cfg.MySQL.QueryTimeout)
	defer cancel()

	srv, err := server.New(cfg, version)
	if err != nil {
		return err
	}
	defer srv.Close()

	tables, err := srv.Check(ctx)
	if err != nil {
		return fmt.Errorf("check %s: %w", cfg.Redacted(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s (%d tables)\n", cfg.Redacted(), len(tables))
	for _, t := range tables {
		fmt.Fprintf(out, "  %s\n", t)
	}
	return nil
}
