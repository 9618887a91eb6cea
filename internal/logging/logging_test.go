package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("recording started", "fps", 60)

	out := buf.String()
	if !strings.Contains(out, "msg=\"recording started\"") {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=capture") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "fps=60") {
		t.Fatalf("expected fps field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("panel")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormatAndSessionFields(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)

	WithSession(L("capture"), "sess-1", "surface-0").Debug("segment")

	out := buf.String()
	for _, want := range []string{`"session":"sess-1"`, `"surface":"surface-0"`, `"component":"capture"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestInitSwitchesBetweenFormats(t *testing.T) {
	logger := L("cli")

	var text, js bytes.Buffer
	Init("text", "info", &text)
	Init("json", "info", &js)
	logger.Info("as json")
	Init("text", "info", &text)
	logger.Info("as text")

	if !strings.Contains(js.String(), `"msg":"as json"`) {
		t.Fatalf("json output = %s", js.String())
	}
	if !strings.Contains(text.String(), `msg="as text"`) {
		t.Fatalf("text output = %s", text.String())
	}
}

func TestGroupedLoggerKeepsGroupAfterInit(t *testing.T) {
	logger := slog.New(rootHandler).WithGroup("sink")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("saved", "path", "/tmp/x.webm")
	if !strings.Contains(buf.String(), "sink.path=/tmp/x.webm") {
		t.Fatalf("expected grouped key, got: %s", buf.String())
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger")
	}
	ctx := NewContext(context.Background(), L("cli"))
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "component=cli") {
		t.Fatalf("expected context logger to be used, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotatingFileRotatesAndPrunes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "surfacerec.log")
	rf, err := OpenRotatingFile(path, 1, 2)
	if err != nil {
		t.Fatalf("OpenRotatingFile: %v", err)
	}
	defer rf.Close()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 5; i++ {
		if _, err := rf.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected %s.3 to be pruned, stat err = %v", path, err)
	}
}

func TestRotatingFileWriteAfterClose(t *testing.T) {
	rf, err := OpenRotatingFile(filepath.Join(t.TempDir(), "a.log"), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := rf.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rf.Close(); err != nil {
		t.Fatalf("second close should be nil, got %v", err)
	}
	if _, err := rf.Write([]byte("late")); err == nil {
		t.Fatal("expected write after close to fail")
	}
}
