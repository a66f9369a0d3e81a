// Package cmd implements the arbiterd command line.
package cmd

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taurusgroup/p2p-wager/pkg/arbiter"
	"github.com/taurusgroup/p2p-wager/pkg/identity"
)

// EnvPrefix prefixes every environment variable read by arbiterd.
const EnvPrefix = "ARBITERD"

const (
	flagConfig       = "config"
	flagListen       = "listen"
	flagKeyFile      = "key-file"
	flagPolicy       = "policy"
	flagRegistrySize = "registry-size"
	flagLogLevel     = "log-level"
	flagLogFormat    = "log-format"
	flagShutdown     = "shutdown-timeout"
)

// Policy names accepted by --policy.
const (
	PolicyUnconditional = "unconditional"
	PolicyCosign        = "cosign"
	PolicyRegistry      = "registry"
	PolicyStrict        = "strict"
)

// Config is the resolved configuration of the daemon.
type Config struct {
	Listen          string        `mapstructure:"listen"`
	KeyFile         string        `mapstructure:"key-file"`
	Policy          string        `mapstructure:"policy"`
	RegistrySize    int           `mapstructure:"registry-size"`
	LogLevel        string        `mapstructure:"log-level"`
	LogFormat       string        `mapstructure:"log-format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

func defaultKeyFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "arbiterd", "key.json")
}

// NewRootCmd creates the arbiterd root command with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:           "arbiterd",
		Short:         "Match arbiter: attests winners by signing stake secrets",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "config file (yaml, toml or json)")
	flags.String(flagKeyFile, defaultKeyFile(), "arbiter key file, created on first use")
	flags.String(flagLogLevel, "info", "log level")
	flags.String(flagLogFormat, "console", "log format: console or json")

	rootCmd.AddCommand(newServeCmd(v), newKeyCmd(v))
	return rootCmd
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := v.GetString(flagConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

func loadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(cfg *Config, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), err
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// buildPolicy maps a policy name to the signing policy.
func buildPolicy(name string, registrySize int) (arbiter.Policy, error) {
	switch name {
	case "", PolicyUnconditional:
		return arbiter.Unconditional{}, nil
	case PolicyCosign:
		return arbiter.WinnerMustCosign{}, nil
	case PolicyRegistry, PolicyStrict:
		registry, err := arbiter.NewMatchRegistry(registrySize)
		if err != nil {
			return nil, err
		}
		if name == PolicyRegistry {
			return registry, nil
		}
		return arbiter.Chain{arbiter.WinnerMustCosign{}, registry}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

func newKeyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "key",
		Short: "Print the arbiter public key, creating the key file if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			kp, err := identity.NewStore(cfg.KeyFile).LoadOrCreate(rand.Reader)
			if err != nil {
				return err
			}
			npub, err := identity.EncodeNpub(kp.Public)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", npub, kp.Public.Hex())
			return nil
		},
	}
}
