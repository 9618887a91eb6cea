package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/config"
)

func TestRecordFlagsOverrideConfig(t *testing.T) {
	cfg := config.Default()
	recordCmd.Flags().Set("duration", "2s")
	recordCmd.Flags().Set("format", "mp4")
	recordCmd.Flags().Set("out", t.TempDir())
	t.Cleanup(func() {
		recordDuration, recordFormat, recordOut = 0, "", ""
		recordCmd.Flags().Lookup("duration").Changed = false
	})

	applyRecordFlags(recordCmd, cfg)
	if cfg.DurationMs != 2000 || cfg.Format != "mp4" || cfg.Sink.Type != "local" || cfg.Sink.Dir != recordOut {
		t.Fatalf("cfg = %+v", cfg)
	}

	opts := recordOptions(cfg)
	if opts.Duration != 2*time.Second || opts.Format != capture.FormatMP4 {
		t.Fatalf("options = %+v", opts)
	}
}

func TestDemoRegistry(t *testing.T) {
	reg, canvas := demoRegistry()
	if canvas == nil || reg.Len() != 1 {
		t.Fatal("demo registry should hold one canvas")
	}
	if w, h := canvas.Size(); w != recordWidth || h != recordHeight {
		t.Fatalf("canvas = %dx%d", w, h)
	}
}

func TestWriteYAMLRedacts(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.SecretAccessKey = "hunter2"
	redact(&cfg.Sink.SecretAccessKey)
	redact(&cfg.Sink.ApplicationKey)

	var buf bytes.Buffer
	if err := writeYAML(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "hunter2") || !strings.Contains(out, "********") {
		t.Fatalf("yaml = %s", out)
	}
	if strings.Contains(out, "application_key") {
		t.Fatal("empty secrets should stay omitted")
	}
}
