/*
Copyright © 2026 Micromachine
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"micromachine.dev/esbuild-jspm/lib/config"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

// LogLevel is raised to debug by --debug or the debug option.
var LogLevel = new(slog.LevelVar)

var rootDir string
var configPath string
var debug bool

var rootCmd = &cobra.Command{
	Use:   "esbuild-jspm",
	Short: "Bundles web apps against CDN import maps",
	Long: `esbuild-jspm bundles the module scripts of an HTML page with esbuild.
Bare imports are resolved against the npm registry and a CDN provider
(jspm, esm.sh or jsdelivr). In proxy mode they stay external and the page
gets an import map; in inline mode the remote modules are bundled.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			LogLevel.Set(slog.LevelDebug)
		}
	},
}

func SetVersion(v string) {
	rootCmd.Version = v
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootDir, "rootdir", "r", ".", "--rootdir ./apps/hello-world")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "--config jspm.toml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "--debug")
}

// loadOptions reads the project configuration and applies the flags the
// user set explicitly.
func loadOptions(cmd *cobra.Command) config.Options {
	opts, err := config.Load(rootDir, configPath)
	if err != nil {
		utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
		os.Exit(1)
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		opts.DefaultProvider, _ = flags.GetString("provider")
	}
	if flags.Changed("mode") {
		mode, _ := flags.GetString("mode")
		opts.Mode = config.Mode(mode)
	}
	if flags.Changed("conditions") {
		opts.Env, _ = flags.GetStringSlice("conditions")
	}
	if flags.Changed("development") {
		opts.Development, _ = flags.GetBool("development")
	}
	if flags.Changed("outdir") {
		opts.Outdir, _ = flags.GetString("outdir")
	}
	if flags.Changed("minify") {
		opts.Minify, _ = flags.GetBool("minify")
	}
	if flags.Changed("port") {
		opts.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("no-cache") {
		opts.Cache.Disabled, _ = flags.GetBool("no-cache")
	}

	if opts.Debug {
		LogLevel.Set(slog.LevelDebug)
	}
	return opts
}

func addResolutionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("provider", "p", "", "--provider jspm|esm.sh|jsdelivr")
	cmd.Flags().StringSlice("conditions", nil, "--conditions browser,module,production")
	cmd.Flags().Bool("development", false, "--development")
	cmd.Flags().Bool("no-cache", false, "--no-cache")
}
