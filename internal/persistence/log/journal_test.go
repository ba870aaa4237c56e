package log

import (
	"path/filepath"
	"testing"
	"time"

	"somnia.ai/internal/sim/events"
)

func TestJournal_RoundTripsEventsInOrder(t *testing.T) {
	dir := t.TempDir()
	j := OpenJournal(dir)
	for i := 0; i < 5; i++ {
		j.Publish(events.Event{ID: string(rune('a' + i)), Type: events.TypeGroupFormed, Tick: uint64(i * 20), Kind: "ritual"})
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	j.Publish(events.Event{ID: "late"})

	var got []events.Event
	if err := ReadJournal(JournalDir(dir), func(e events.Event) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("events: got %d want 5", len(got))
	}
	for i, e := range got {
		if e.Tick != uint64(i*20) || e.Kind != "ritual" {
			t.Fatalf("event %d: got %+v", i, e)
		}
	}
	if j.Dropped() != 0 || j.Failed() != 0 {
		t.Fatalf("dropped=%d failed=%d", j.Dropped(), j.Failed())
	}
}

func TestWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := newSegmentWriter(dir, journalPrefix)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Append(events.Event{Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Append(events.Event{Tick: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := JournalFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"events-2026-03-01-10.jsonl.zst", "events-2026-03-01-11.jsonl.zst"}
	if len(files) != len(want) {
		t.Fatalf("files: got %v", files)
	}
	for i, f := range files {
		if filepath.Base(f) != want[i] {
			t.Fatalf("file %d: got %s want %s", i, filepath.Base(f), want[i])
		}
	}

	var ticks []uint64
	_ = ReadJournal(dir, func(e events.Event) error { ticks = append(ticks, e.Tick); return nil })
	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 2 {
		t.Fatalf("ticks: got %v want [1 2]", ticks)
	}
}
