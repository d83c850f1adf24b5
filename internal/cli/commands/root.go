// Package commands implements the cachectl command line.
package commands

import (
	"fmt"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/goliatone/go-cache-connector/connector"
	"github.com/goliatone/go-cache-connector/internal/settings"
	"github.com/goliatone/go-cache-connector/pkg/di"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app holds what every subcommand shares. It is populated by the root
// PersistentPreRunE and released by PersistentPostRunE.
type app struct {
	v          *viper.Viper
	configFile string
	debug      bool

	logger    *zap.Logger
	container *di.Container
}

// NewRootCmd builds the cachectl command tree. Settings come from --config,
// CACHE_ environment variables and the --provider and --namespace flags, in
// increasing precedence.
func NewRootCmd() *cobra.Command {
	a := &app{v: settings.NewViper()}

	root := &cobra.Command{
		Use:   "cachectl",
		Short: "Inspect and manage cache providers",
		Long: `cachectl reads, writes and invalidates cache entries through the same
connector applications use, so keys, codecs and tags match what they see.

Examples:
  cachectl --provider remote get cache:user:findById:42
  cachectl set greeting hello --ttl 1m --tag greetings
  cachectl invalidate --tag user:42
  CACHE_DOCUMENT_DSN=/tmp/cache.db cachectl --provider document cleanup`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.BoolVar(&a.debug, "debug", false, "enable development logging")
	flags.String("provider", "", "default provider: memory, sharded, document, remote or noop")
	flags.String("namespace", "", "first segment of every key")
	_ = a.v.BindPFlag(settings.KeyDefaultProvider, flags.Lookup("provider"))
	_ = a.v.BindPFlag(settings.KeyNamespace, flags.Lookup("namespace"))

	root.AddCommand(
		newGetCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newInvalidateCmd(a),
		newCleanupCmd(a),
		newDemoCmd(a),
	)
	return root
}

func (a *app) init() error {
	logger, err := newLogger(a.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger

	s, err := settings.Load(a.v, a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	container, err := di.NewContainer(s, connector.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create cache container: %w", err)
	}
	a.container = container

	logger.Debug("cache container ready",
		zap.String("provider", s.DefaultProvider.String()),
		zap.String("namespace", s.Namespace),
		zap.Bool("enabled", s.Enabled),
	)
	return nil
}

func (a *app) close() error {
	var err error
	if a.container != nil {
		err = a.container.Close()
		a.container = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

func (a *app) conn() *connector.Connector {
	return a.container.Connector()
}

func (a *app) defaultProvider() cache.ProviderKind {
	return a.container.Settings().DefaultProvider
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
