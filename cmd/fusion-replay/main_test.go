package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/navfusion/internal/telemetry"
)

const hoverLog = "../../internal/replay/testdata/hover.jsonl"

func TestRun_WritesDatabaseAndReports(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		configPath: "../../config/fusion.defaults.json",
		inputPath:  hoverLog,
		dbPath:     filepath.Join(dir, "fusion.db"),
		htmlPath:   filepath.Join(dir, "report.html"),
		pngPath:    filepath.Join(dir, "ratios.png"),
	}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &out))

	assert.Contains(t, out.String(), "40 frames, 40 cycles")
	assert.Contains(t, out.String(), "rejects: vel=1 pos=0 hgt=0")
	assert.Contains(t, out.String(), "excessive_tilt=1")

	html, err := os.ReadFile(opts.htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "hover.jsonl")

	png, err := os.ReadFile(opts.pngPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	rec, err := telemetry.OpenRecorder(opts.dbPath, nil)
	require.NoError(t, err)
	defer rec.Close()
	runs, err := rec.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "hover.jsonl", runs[0].Label)
	assert.Equal(t, 40, runs[0].Snapshots)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	badCfg := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badCfg, []byte(`{"vel_innov_gate": 0}`), 0644))

	tests := []struct {
		name string
		opts options
	}{
		{"missing input", options{inputPath: filepath.Join(dir, "nope.jsonl"), dbPath: filepath.Join(dir, "a.db")}},
		{"invalid config", options{configPath: badCfg, inputPath: hoverLog, dbPath: filepath.Join(dir, "b.db")}},
		{"config extension", options{configPath: filepath.Join(dir, "cfg.yaml"), inputPath: hoverLog, dbPath: filepath.Join(dir, "c.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(context.Background(), tt.opts, &out))
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := options{inputPath: hoverLog, dbPath: filepath.Join(t.TempDir(), "fusion.db")}
	err := run(ctx, opts, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}
