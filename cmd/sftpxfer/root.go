package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sftpxfer "github.com/eleztian/go-sftpxfer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sftpxfer",
	Short: "Parallel chunked file transfer over SFTP",
	Long: `sftpxfer uploads and downloads files over an SSH connection, moving each
file as fixed-size chunks with a bounded number of chunks in flight.

Usage:
  Upload a file:     sftpxfer put ./local.bin /remote/path/local.bin
  Download a file:   sftpxfer get /remote/path/file.bin ./file.bin
  List a directory:  sftpxfer ls /remote/path

Press Ctrl-C to cancel a running transfer at the next chunk boundary.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		level, err := logrus.ParseLevel(viper.GetString("log_level"))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	home, _ := os.UserHomeDir()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sftpxfer.yaml)")
	flags.String("host", "", "remote host, optionally with :port")
	flags.String("user", os.Getenv("USER"), "remote user name")
	flags.String("key", filepath.Join(home, ".ssh", "id_ed25519"), "private key file")
	flags.String("control-dir", filepath.Join(home, ".sftpxfer"), "directory holding known hosts")
	flags.Int("chunk-size", sftpxfer.DefaultChunkSize, "bytes per chunk")
	flags.Int("concurrency", sftpxfer.DefaultConcurrency, "maximum chunks in flight")
	flags.Int("queue-depth", 0, "writer queue capacity (0 = concurrency)")
	flags.String("log-level", "warning", "log level")

	for key, flag := range map[string]string{
		"host":        "host",
		"user":        "user",
		"key":         "key",
		"control_dir": "control-dir",
		"chunk_size":  "chunk-size",
		"concurrency": "concurrency",
		"queue_depth": "queue-depth",
		"log_level":   "log-level",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	viper.SetEnvPrefix("SFTPXFER")
	viper.AutomaticEnv()

	rootCmd.AddCommand(putCmd, getCmd, lsCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sftpxfer")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "initConfig",
		"file":     viper.ConfigFileUsed(),
	}).Debug("Using config file")
	return nil
}

func transferConfig() (sftpxfer.Config, error) {
	var cfg sftpxfer.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// connect dials the configured host and returns a manager and a client.
// The caller closes the client before the manager.
func connect(ctx context.Context, opts ...sftpxfer.ClientOption) (*sftpxfer.SessionManager, *sftpxfer.Client, error) {
	cfg, err := transferConfig()
	if err != nil {
		return nil, nil, err
	}
	host := viper.GetString("host")
	if host == "" {
		return nil, nil, fmt.Errorf("no host configured")
	}

	m := sftpxfer.NewSessionManager()
	err = m.Connect(ctx, host, viper.GetString("user"), viper.GetString("control_dir"), viper.GetString("key"))
	if err != nil {
		return nil, nil, err
	}
	cli, err := m.CreateClient(ctx, cfg, opts...)
	if err != nil {
		_ = m.Close()
		return nil, nil, err
	}
	return m, cli, nil
}

func disconnect(m *sftpxfer.SessionManager, cli *sftpxfer.Client) {
	if err := cli.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close client")
	}
	if err := m.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close session")
	}
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
