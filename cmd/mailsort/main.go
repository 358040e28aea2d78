package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nhle/mailsort/internal/logging"
	"github.com/nhle/mailsort/internal/model"
)

var version = "dev"

// cli carries state shared by all subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *model.AppConfig
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: model.NewViper()}

	root := &cobra.Command{
		Use:   "mailsort",
		Short: "Classify incoming mail and file it under labels",
		Long: `mailsort fetches new messages from linked mailboxes, classifies them with
deterministic rules and an optional LLM, and applies the matching label or folder.
Uncertain messages are filed for review.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: c.initConfig,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default: $HOME/.config/mailsort/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("user", "local", "user that owns connections and categories")

	_ = c.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = c.v.BindPFlag("user", flags.Lookup("user"))

	root.AddCommand(runCmd(c))
	root.AddCommand(serveCmd(c))
	root.AddCommand(connectionCmd(c))
	root.AddCommand(categoryCmd(c))
	root.AddCommand(reviewCmd(c))
	root.AddCommand(llmCmd(c))

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *cli) initConfig(_ *cobra.Command, _ []string) error {
	path := c.cfgFile
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(c.v, path)
	if err != nil {
		return err
	}
	c.cfg = cfg

	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	c.logger = slog.Default()
	return nil
}

func (c *cli) user() string {
	return c.v.GetString("user")
}
