package logbook

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reload.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestMirrorReceivesLevelledEntries(t *testing.T) {
	var mirror bytes.Buffer
	book, err := New(filepath.Join(t.TempDir(), "logs", "reload.log"), WithMirror(&mirror))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Warn("artifact %s missing", "view.go")
	book.Error("boom")
	out := mirror.String()
	if !strings.Contains(out, "WARN  artifact view.go missing") {
		t.Fatalf("mirror missing warn entry: %q", out)
	}
	if !strings.Contains(out, "ERROR boom") {
		t.Fatalf("mirror missing error entry: %q", out)
	}
}

func TestWriterSplitsLines(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "reload.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	w := book.Writer(LevelInfo, "build │ ")
	fmt.Fprint(w, "compiling")
	fmt.Fprint(w, " view\n\nwrote view.go\npartial")
	lines, total := book.Tail(10)
	if total != 2 {
		t.Fatalf("expected 2 complete lines, got %d: %v", total, lines)
	}
	if !strings.HasSuffix(lines[0], "build │ compiling view") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "build │ wrote view.go") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var book *Logbook
	book.Info("ignored")
	if lines, total := book.Tail(3); lines != nil || total != 0 {
		t.Fatalf("nil logbook must return nothing")
	}
}
