package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestExecuteReturnsSubcommandCode(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("capture: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"version", []string{"version"}, 0},
		{"missing recording", []string{"replay", filepath.Join(dir, "missing.h264")}, 1},
		{"malformed config", []string{"config", "--config", bad}, 1},
		{"unknown command", []string{"bogus"}, 1},
		{"version after failure", []string{"version"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFile = ""
			if got := execute(context.Background(), tt.args); got != tt.want {
				t.Fatalf("execute(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}
