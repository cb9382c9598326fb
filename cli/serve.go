package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/backend/local"
	"github.com/aspects-ai/agent-backend/engine/backend/memory"
	"github.com/aspects-ai/agent-backend/engine/backend/remote"
	"github.com/aspects-ai/agent-backend/engine/oplog"
	"github.com/aspects-ai/agent-backend/pkg/config"
	"github.com/aspects-ai/agent-backend/pkg/logger"
	"github.com/aspects-ai/agent-backend/server"
)

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace backend over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("root", "", "workspace root directory")
	cmd.Flags().String("backend", "", "backend type: local, remote, or memory")
	cmd.Flags().String("isolation", "", "isolation mode: auto, namespace, software, or none")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, or error")
	return cmd
}

// applyFlags layers explicit flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	for flag, dst := range map[string]*string{
		"root":      &cfg.Backend.RootDir,
		"backend":   &cfg.Backend.Type,
		"isolation": &cfg.Backend.Isolation,
		"log-level": &cfg.Log.Level,
	} {
		value, err := cmd.Flags().GetString(flag)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", flag, err)
		}
		if value != "" {
			*dst = value
		}
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// The MCP transport owns stdout, so logs go to stderr.
	log := logger.NewLogger(&logger.Config{
		Level:  logger.LogLevel(cfg.Log.Level),
		Output: os.Stderr,
		JSON:   cfg.Log.JSON,
	})
	ctx = logger.ContextWithLogger(ctx, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = b.Destroy(context.Background()) }()

	log.Info("serving workspace backend",
		"type", b.Type(),
		"root", b.RootDir(),
	)
	err = server.ServeStdio(ctx, server.New(b, &server.Config{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, log))
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func buildBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (backend.Backend, error) {
	opsLogger := buildOpsLogger(cfg, log)
	switch cfg.Backend.Type {
	case "memory":
		return memory.New(&memory.Config{
			RootDir:   cfg.Backend.RootDir,
			OpsLogger: opsLogger,
		})
	case "remote":
		return remote.New(ctx, &remote.Config{
			RootDir:           cfg.Backend.RootDir,
			Host:              cfg.Remote.Host,
			Port:              cfg.Remote.Port,
			User:              cfg.Remote.User,
			AuthToken:         cfg.Remote.AuthToken,
			DialTimeout:       cfg.Remote.DialTimeout,
			KeepaliveInterval: cfg.Remote.KeepaliveInterval,
			Reconnection: remote.Reconnection{
				MaxRetries:   cfg.Remote.ReconnectMaxRetries,
				InitialDelay: cfg.Remote.ReconnectInitialDelay,
				MaxDelay:     cfg.Remote.ReconnectMaxDelay,
			},
			AllowDangerous: !cfg.Backend.PreventDangerous,
			MaxOutputBytes: cfg.Backend.MaxOutputBytes,
			OpTimeout:      cfg.Backend.OpTimeout,
			OpsLogger:      opsLogger,
		})
	default:
		return local.New(&local.Config{
			RootDir:        cfg.Backend.RootDir,
			Isolation:      backend.Isolation(cfg.Backend.Isolation),
			AllowDangerous: !cfg.Backend.PreventDangerous,
			Shell:          cfg.Backend.Shell,
			MaxOutputBytes: cfg.Backend.MaxOutputBytes,
			OpTimeout:      cfg.Backend.OpTimeout,
			OpsLogger:      opsLogger,
		})
	}
}

func buildOpsLogger(cfg *config.Config, log logger.Logger) oplog.Logger {
	switch cfg.Log.Ops {
	case "off":
		return nil
	case "verbose":
		return oplog.NewConsoleLogger(oplog.ModeVerbose, log)
	default:
		return oplog.NewConsoleLogger(oplog.ModeStandard, log)
	}
}
