package cmd

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"micromachine.dev/esbuild-jspm/lib/bundler"
	"micromachine.dev/esbuild-jspm/lib/generator/importmap"
	"micromachine.dev/esbuild-jspm/lib/utils"
)

var mapOutput string

var mapCmd = &cobra.Command{
	Use:   "map <specifier>...",
	Short: "Resolves specifiers and prints the resulting import map",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadOptions(cmd)
		ctx := cmd.Context()

		session, err := bundler.NewSession(ctx, rootDir, opts, nil)
		if err != nil {
			utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
			os.Exit(1)
		}
		defer session.Close()

		for _, spec := range args {
			if _, err := session.Coordinator.ResolveOrInstall(ctx, spec, ""); err != nil {
				utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
			}
		}

		m, err := session.Coordinator.FinalizeCycle(ctx)
		if err != nil {
			session.Close()
			os.Exit(1)
		}

		out, err := encodeMap(m, mapOutput)
		if err != nil {
			utils.LogWithColor(utils.Fail, fmt.Sprintf("✗ %v", err))
			session.Close()
			os.Exit(1)
		}
		os.Stdout.Write(out)
	},
}

func encodeMap(m *importmap.ImportMap, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := m.MarshalIndent()
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "table":
		return encodeMapAsTable(m), nil
	}
	return nil, fmt.Errorf("unknown output format %q (supported: json, table)", format)
}

func encodeMapAsTable(m *importmap.ImportMap) []byte {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Scope", "Specifier", "Target"})

	for _, spec := range sortedKeys(m.Imports) {
		t.AppendRow(table.Row{"", spec, m.Imports[spec]})
	}
	scopes := make([]string, 0, len(m.Scopes))
	for scope := range m.Scopes {
		scopes = append(scopes, scope)
	}
	slices.Sort(scopes)
	for _, scope := range scopes {
		for _, spec := range sortedKeys(m.Scopes[scope]) {
			t.AppendRow(table.Row{scope, spec, m.Scopes[scope][spec]})
		}
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return buf.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func init() {
	rootCmd.AddCommand(mapCmd)

	addResolutionFlags(mapCmd)
	mapCmd.Flags().StringVarP(&mapOutput, "output", "o", "json", "--output json|table")
}
