package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/config"
	"github.com/zhouzirui/startup-chat/client/internal/logging"
	"github.com/zhouzirui/startup-chat/client/internal/service/conversation"
	"github.com/zhouzirui/startup-chat/client/internal/service/persistence"
	"github.com/zhouzirui/startup-chat/client/internal/service/registry"
	"github.com/zhouzirui/startup-chat/client/internal/service/transport"
	"github.com/zhouzirui/startup-chat/client/internal/storage"
)

// app holds everything a subcommand needs. It is built once per process in
// PersistentPreRunE.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	kv     storage.KV
	store  *persistence.Store
	ctrl   *conversation.Controller
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	root := &cobra.Command{
		Use:   "chatclient",
		Short: "Client for the startup assistant chat service",
		Long: `chatclient keeps a local history of assistant conversations and relays
messages to the remote assistant service.

Run "chatclient serve" to expose the conversation to a browser view, or use
the one-shot subcommands from a terminal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, opts)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (or set "+config.FileEnvKey+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newSendCmd(a))
	root.AddCommand(newNewCmd(a))
	root.AddCommand(newSessionsCmd(a))
	root.AddCommand(newTranscribeCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command, opts *rootOptions) error {
	envErr := godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	if envErr != nil {
		logger.Debug("no .env file loaded, using process environment", zap.Error(envErr))
	}

	kv, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.kv = kv
	a.store = persistence.New(kv, logger)

	client := transport.NewClient(cfg.Remote, logger)
	reg := registry.New(a.store, registry.WithLogger(logger))
	a.ctrl = conversation.NewController(client, reg, conversation.WithLogger(logger))
	a.ctrl.Restore(cmd.Context())
	return nil
}

func (a *app) close() {
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("failed to close storage", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func openStorage(cfg config.StorageConfig) (storage.KV, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemory(), nil
	default:
		kv, err := storage.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return kv, nil
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
