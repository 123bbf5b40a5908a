package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"micromachine.dev/esbuild-jspm/lib/bundler"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

var devHost string

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Serves the app and rebuilds it on change",
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadOptions(cmd)
		if !cmd.Flags().Changed("development") {
			opts.Development = true
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session, err := bundler.NewSession(ctx, rootDir, opts, nil)
		if err != nil {
			utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
			os.Exit(1)
		}
		defer session.Close()

		server := bundler.DevServer{
			Bundle: &bundler.Bundle{Session: session, EntryPoints: args},
			Host:   devHost,
		}
		if err := server.Start(ctx); err != nil {
			utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
			session.Close()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(devCmd)

	addResolutionFlags(devCmd)
	devCmd.Flags().Int("port", 0, "--port 5173")
	devCmd.Flags().StringVar(&devHost, "host", "127.0.0.1", "--host 0.0.0.0")
}
