package buildinfo

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestInfoAndLog(t *testing.T) {
	origVersion := Version
	origCommit := Commit
	origDate := Date
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
		Date = origDate
	})

	Version = "0.3.0"
	Commit = "abc123"
	Date = "2026-08-01"

	info := Info()
	if info != "version=0.3.0 commit=abc123 date=2026-08-01" {
		t.Fatalf("unexpected info: %s", info)
	}

	var buf bytes.Buffer
	origOutput := log.Writer()
	origFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOutput)
		log.SetFlags(origFlags)
	})

	Log("geoscope-gateway")
	got := strings.TrimSpace(buf.String())
	if !strings.Contains(got, "geoscope-gateway") || !strings.Contains(got, info) {
		t.Fatalf("unexpected log output: %s", got)
	}
}
