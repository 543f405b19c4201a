package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
)

type flags struct {
	configPath    string
	reload        time.Duration
	shutdownGrace time.Duration
	pyroscopeAddr string
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		logs.Errorf("marketmaker exited, err: %+v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "marketmaker",
		Short:         "Single venue market maker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "configs/marketmaker.json", "path to JSON config")
	root.PersistentFlags().DurationVar(&f.reload, "config-reload-interval", 2*time.Second, "config reload interval (0=disable)")
	root.PersistentFlags().DurationVar(&f.shutdownGrace, "shutdown-grace", 3*time.Second, "time to let cancels reach the venue before exiting")
	root.PersistentFlags().StringVar(&f.pyroscopeAddr, "pyroscope", "", "pyroscope server address, e.g. http://localhost:4040 (empty=disable)")

	root.AddCommand(runCmd(&f))
	root.AddCommand(simulateCmd(&f))
	return root
}

func runCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trade on the live venue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLive(cmd.Context(), *f)
		},
	}
}

func simulateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Trade against the simulated venue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulated(cmd.Context(), *f)
		},
	}
}
