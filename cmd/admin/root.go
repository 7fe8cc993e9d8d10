package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

var rootFlags struct {
	dataDir string
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Inspect recorded Nightreign runs and the banner pattern map",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	dataDir := "data"
	if env, err := config.LoadEnv(); err == nil {
		dataDir = env.DataDir
	}
	rootCmd.PersistentFlags().StringVar(&rootFlags.dataDir, "data", dataDir, "runtime data directory")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(patternsCmd)
}

func env() config.Env { return env0(rootFlags.dataDir) }

func env0(dataDir string) config.Env { return config.Env{DataDir: dataDir} }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
