package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anorb/cmdrunner"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cmdrunner",
	Short: "Custom Command Runner - scheduled prefix and slash commands for Discord",
	Long: `cmdrunner issues configured prefix and slash commands into Discord channels
on per-command cooldowns, correlates the target bots' replies and audits every
attempt to an optional webhook.

Jobs are edited from chat with <prefix>ccr, or by editing ccr_channels.json in
the data directory while the runner is up.

Examples:
  cmdrunner init            # Create config.toml
  cmdrunner check           # Validate config and stored jobs
  cmdrunner run             # Connect and resume the runner`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and run the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cmdrunner.LoadConfig(configPath)
		if err != nil {
			return err
		}
		bot, err := cmdrunner.NewBot(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Runner is now connected. Press CTRL-C to exit.")
		return bot.Run(ctx)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and the stored jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cmdrunner.LoadConfig(configPath)
		if err != nil {
			return err
		}
		problems, err := cmdrunner.Check(cfg)
		if err != nil {
			return err
		}
		for _, p := range problems {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d problem(s) found", len(problems))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a minimal config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmdrunner.CreateMinimalConfig(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "path to config.toml")
	rootCmd.Version = version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
