package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadPackageJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"name": "app",
		"dependencies": {"react": "^18.2.0"},
		"devDependencies": {"react": "^17.0.0", "vite": "^5.0.0"},
		"peerDependencies": {"react-dom": "^18.0.0"}
	}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := ReadPackageJSON(dir)
	if err != nil {
		t.Fatalf("expected package.json, got error: %v", err)
	}
	if !p.HasDependency("vite") {
		t.Error("expected vite to be a dependency")
	}
	if p.HasDependency("react-dom") {
		t.Error("peer dependencies are not installed dependencies")
	}

	ranges := p.Ranges()
	if ranges["react"] != "^18.2.0" {
		t.Errorf("expected runtime range for react, got %s", ranges["react"])
	}
	if ranges["react-dom"] != "^18.0.0" {
		t.Errorf("expected peer range for react-dom, got %s", ranges["react-dom"])
	}
}

func TestReadMissingPackageJSON(t *testing.T) {
	p, err := ReadPackageJSON(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Ranges()) != 0 {
		t.Errorf("expected no ranges, got %v", p.Ranges())
	}
}
