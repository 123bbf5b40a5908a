/*
Copyright © 2026 Micromachine
*/
package main

import (
	"log/slog"

	"micromachine.dev/esbuild-jspm/cmd"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

// Version is set at release time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd.SetVersion(Version)
	slog.SetDefault(slog.New(utils.NewColorHandler(cmd.LogLevel)))
	cmd.Execute()
}
