package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateWithin(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "out"), 0o755); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing subdir", filepath.Join(dir, "out"), false},
		{"new file", filepath.Join(dir, "out", "run.png"), false},
		{"new nested file", filepath.Join(dir, "a", "b", "run.png"), false},
		{"dot dot", filepath.Join(dir, "..", "run.png"), true},
		{"symlinked parent", filepath.Join(dir, "link", "run.png"), true},
		{"absolute elsewhere", filepath.Join(outside, "run.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWithin(tt.path, dir)
			if tt.wantErr {
				if !errors.Is(err, ErrPathEscape) {
					t.Errorf("ValidateWithin(%q) = %v, want ErrPathEscape", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateWithin(%q) unexpected error: %v", tt.path, err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	if err := ValidateOutputPath(filepath.Join(os.TempDir(), "trackfilter", "run.html")); err != nil {
		t.Errorf("temp path rejected: %v", err)
	}
	if err := ValidateOutputPath("report.html"); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	if err := ValidateOutputPath("/proc/self/run.html"); err == nil {
		t.Error("expected /proc path to be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                 "run",
		"highway-101":      "highway-101",
		"run 7 / east":     "run_7_east",
		"../../etc/passwd": "etc_passwd",
		"__x__":            "x",
		"ünïcode":          "n_code",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
