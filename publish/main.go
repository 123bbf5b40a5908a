// Command publish cross-compiles esbuild-jspm and lays out one npm package
// per platform under npm/@esbuild-jspm.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

var targets = []struct {
	GOOS   string
	GOARCH string
	// npm's names for the platform, used in the package's os and cpu fields
	NodeOS   string
	NodeArch string
}{
	{"darwin", "arm64", "darwin", "arm64"},
	{"darwin", "amd64", "darwin", "x64"},
	{"linux", "arm64", "linux", "arm64"},
	{"linux", "arm", "linux", "arm"},
	{"linux", "amd64", "linux", "x64"},
	{"windows", "arm64", "win32", "arm64"},
	{"windows", "amd64", "win32", "x64"},
}

type packageJSON struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	OS      []string `json:"os"`
	CPU     []string `json:"cpu"`
	Bin     string   `json:"bin"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: publish <version>")
		os.Exit(2)
	}
	version := os.Args[1]

	for _, t := range targets {
		platform := t.NodeOS + "-" + t.NodeArch
		fmt.Printf("Building %s/%s...\n", t.GOOS, t.GOARCH)

		binName := "esbuild-jspm"
		if t.GOOS == "windows" {
			binName += ".exe"
		}

		pkgDir := filepath.Join("npm", "@esbuild-jspm", platform)
		if err := os.MkdirAll(filepath.Join(pkgDir, "bin"), 0755); err != nil {
			panic(err)
		}

		cmd := exec.Command("go", "build",
			"-ldflags", fmt.Sprintf("-s -w -X main.Version=%s", version),
			"-o", filepath.Join(pkgDir, "bin", binName),
			".",
		)
		cmd.Env = append(os.Environ(),
			"GOOS="+t.GOOS,
			"GOARCH="+t.GOARCH,
			"CGO_ENABLED=0",
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			panic(err)
		}

		manifest, err := json.MarshalIndent(packageJSON{
			Name:    "@esbuild-jspm/" + platform,
			Version: version,
			OS:      []string{t.NodeOS},
			CPU:     []string{t.NodeArch},
			Bin:     "bin/" + binName,
		}, "", "  ")
		if err != nil {
			panic(err)
		}
		if err := os.WriteFile(filepath.Join(pkgDir, "package.json"), append(manifest, '\n'), 0644); err != nil {
			panic(err)
		}
	}
}
