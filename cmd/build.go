package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"micromachine.dev/esbuild-jspm/lib/bundler"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundles the app and writes the HTML entry with its import map",
	Long: `The build command prepares the application for deployment.
It performs the following steps:
1. Locates and parses the jspm configuration file (toml, json, jsonc or yaml).
2. Finds the module scripts of the HTML entry.
3. Bundles them with esbuild, resolving bare imports against the CDN provider.
4. Writes the bundle, the HTML entry with the es-module-shims and import map
   tags, and importmap.json to the output directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadOptions(cmd)

		start := time.Now()
		utils.LogWithColor(utils.Cyan, "Running `esbuild-jspm build`...")

		session, err := bundler.NewSession(cmd.Context(), rootDir, opts, nil)
		if err != nil {
			utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
			os.Exit(1)
		}
		defer session.Close()

		b := bundler.Bundle{Session: session, EntryPoints: args}
		report, err := b.Pack(cmd.Context())
		if err != nil {
			utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
			session.Close()
			os.Exit(1)
		}

		if report.ImportMap != nil {
			utils.LogWithColor(utils.Muted, fmt.Sprintf("%d import map entries", report.ImportMap.Len()))
		}
		elapsed := time.Since(start)
		utils.LogWithColor(utils.Success, fmt.Sprintf("✓ Completed `esbuild-jspm build` in %s", elapsed))
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	addResolutionFlags(buildCmd)
	buildCmd.Flags().StringP("mode", "m", "", "--mode proxy|inline")
	buildCmd.Flags().StringP("outdir", "o", "", "--outdir dist")
	buildCmd.Flags().Bool("minify", false, "--minify")
}
