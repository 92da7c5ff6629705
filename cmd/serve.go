package cmd

import (
	"context"
	"net"
	"os"

	"github.com/spf13/cobra"

	"sandboxexec/cmdexec"
	"sandboxexec/config"
	"sandboxexec/fsexec"
	"sandboxexec/logging"
	"sandboxexec/pool"
	"sandboxexec/protocol"
	"sandboxexec/registry"
	"sandboxexec/security"
)

var serveSocket string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandbox execution service",
	Long: `serve starts the sandbox execution service, reading NDJSON requests
from stdin (or a Unix domain socket given by --socket) and writing NDJSON
responses, stream updates, heartbeats, and health checks in reply.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "Unix domain socket path to listen on instead of stdio")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if serveSocket != "" {
		cfg.Socket = serveSocket
	}

	handler := buildHandler(cfg)
	ctx := GetContext()

	if cfg.Socket == "" {
		return handler.Run(ctx, os.Stdin, os.Stdout)
	}
	return serveSocketLoop(ctx, cfg.Socket, handler)
}

func buildHandler(cfg config.Config) *protocol.Handler {
	fileCtx := security.ForFileOperations(mustGetwd())
	cmdCtx := security.ForCommandExecution()
	fileCtx.SetResourceLimits(cfg.ResourceLimits)
	cmdCtx.SetResourceLimits(cfg.ResourceLimits)

	whitelist := cmdexec.NewWhitelistFromEnv()

	reg := registry.New()
	reg.Register("filesystem", fsexec.New(fileCtx))
	reg.Register("command", cmdexec.New(cmdCtx, whitelist))

	handler := protocol.NewHandler(reg, logging.Default())
	handler.Pool = pool.New(cfg.Pool, handler.Metrics)
	return handler
}

func mustGetwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return os.TempDir()
	}
	return cwd
}

func serveSocketLoop(ctx context.Context, path string, handler *protocol.Handler) error {
	_ = os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	logging.Info("listening on unix socket", "path", path)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go func() {
			defer conn.Close()
			if err := handler.Run(ctx, conn, conn); err != nil {
				logging.Warn("connection handler exited", "error", err)
			}
		}()
	}
}
