package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	old := stdout
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func TestInit_TeesPlainLines(t *testing.T) {
	t.Setenv(EnvLevel, "")
	out := captureStdout(t)
	var tee bytes.Buffer

	logger, err := Init("tecctl", "debug", &tee)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	logger.Info().Str("tec", "chamber").Msg("controller started")

	if !strings.Contains(out.String(), "controller started") {
		t.Fatalf("stdout=%q", out.String())
	}
	s := tee.String()
	if !strings.Contains(s, "controller started") || !strings.Contains(s, "tec=chamber") || !strings.Contains(s, "app=tecctl") {
		t.Fatalf("tee=%q", s)
	}
	if strings.Contains(tee.String(), "\x1b[") {
		t.Fatalf("tee has colour codes: %q", tee.String())
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	t.Setenv(EnvLevel, "")
	out := captureStdout(t)

	logger, err := Init("tecctl", "warn")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")
	if strings.Contains(out.String(), "quiet") || !strings.Contains(out.String(), "loud") {
		t.Fatalf("stdout=%q", out.String())
	}
}

func TestResolveLevel(t *testing.T) {
	t.Setenv(EnvLevel, "")
	lvl, err := resolveLevel("")
	if err != nil || lvl != zerolog.InfoLevel {
		t.Fatalf("lvl=%v err=%v", lvl, err)
	}

	lvl, err = resolveLevel("bogus")
	if err == nil || lvl != zerolog.InfoLevel {
		t.Fatalf("lvl=%v err=%v want info with error", lvl, err)
	}

	t.Setenv(EnvLevel, "ERROR")
	lvl, err = resolveLevel("debug")
	if err != nil || lvl != zerolog.ErrorLevel {
		t.Fatalf("lvl=%v err=%v want env override", lvl, err)
	}
}
