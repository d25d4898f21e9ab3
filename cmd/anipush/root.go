package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "anipush",
	Short: "Media update push daemon for AniRSS and Emby",
	Long: `anipush - media update push daemon

Receives AniRSS and Emby webhooks, merges episode updates per series,
and pushes notifications to QQ groups and users over OneBot.

Run 'anipush serve' to start the daemon.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: auto-discover)")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("anipush {{.Version}}\n")
}
