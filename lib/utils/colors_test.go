package utils

import (
	"bytes"
	"os"
	"testing"
)

func TestLogWithColor(t *testing.T) {
	var buf bytes.Buffer
	SetProgressOutput(&buf)
	t.Cleanup(func() { SetProgressOutput(os.Stderr) })

	LogWithColor(Default, "Bundling 1 entry point(s)...")

	if got, want := buf.String(), "Bundling 1 entry point(s)...\n"; got != want {
		t.Errorf("LogWithColor wrote %q, want %q", got, want)
	}
}
