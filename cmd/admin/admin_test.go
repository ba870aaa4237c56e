package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"somnia.ai/internal/persistence/indexdb"
	persistlog "somnia.ai/internal/persistence/log"
	"somnia.ai/internal/persistence/snapshot"
	"somnia.ai/internal/sim/events"
)

func runAdmin(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGroupsAndCounts(t *testing.T) {
	dir := t.TempDir()
	idx, err := indexdb.OpenSQLite(indexdb.SQLitePath(dir))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx.Publish(events.Event{ID: "1", Type: events.TypeGroupFormed, Tick: 20, TS: 1000, Kind: "ritual", Variant: "B", GroupID: "ritual-abc", Members: []string{"a", "b", "c"}})
	idx.Publish(events.Event{ID: "2", Type: events.TypeGroupFormed, Tick: 40, TS: 2000, Kind: "portal", GroupID: "portal-def", Members: []string{"a", "d"}})
	idx.Publish(events.Event{ID: "3", Type: events.TypeGroupDissolved, Tick: 90, Kind: "ritual", GroupID: "ritual-abc", Reason: "vacated"})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := runAdmin(t, "--data", dir, "groups")
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if !strings.Contains(out, "portal-def") || !strings.Contains(out, "vacated @90") {
		t.Fatalf("groups output:\n%s", out)
	}
	if strings.Index(out, "portal-def") > strings.Index(out, "ritual-abc") {
		t.Fatalf("groups not newest first:\n%s", out)
	}

	out, err = runAdmin(t, "--data", dir, "groups", "--kind", "ritual")
	if err != nil || strings.Contains(out, "portal-def") {
		t.Fatalf("kind filter: %v\n%s", err, out)
	}

	out, err = runAdmin(t, "--data", dir, "counts")
	if err != nil || !strings.Contains(out, "ritual") || !strings.Contains(out, "portal") {
		t.Fatalf("counts: %v\n%s", err, out)
	}
}

func TestGroups_MissingIndex(t *testing.T) {
	if _, err := runAdmin(t, "--data", t.TempDir(), "groups"); err == nil {
		t.Fatal("expected error for a data dir without an index")
	}
}

func TestJournal_FilterAndLimit(t *testing.T) {
	dir := t.TempDir()
	j := persistlog.OpenJournal(dir)
	j.Publish(events.Event{ID: "1", Type: events.TypeGroupFormed, Tick: 10, Kind: "ritual", Variant: "A", GroupID: "ritual-1", Members: []string{"a", "b"}})
	j.Publish(events.Event{ID: "2", Type: events.TypeLunarPhaseChanged, Tick: 30, EnvID: "overworld", Lunar: &events.Lunar{Phase: 4, Name: "New Moon", Multiplier: 0.5, Day: 4}})
	j.Publish(events.Event{ID: "3", Type: events.TypeGroupDissolved, Tick: 50, Kind: "ritual", GroupID: "ritual-1", Reason: "vacated"})
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := runAdmin(t, "--data", dir, "journal", "--type", "lunar_phase_changed")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(out, "New Moon (x0.50) day 4") || strings.Contains(out, "ritual-1") {
		t.Fatalf("type filter:\n%s", out)
	}

	out, err = runAdmin(t, "--data", dir, "journal", "--limit", "1")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if strings.Count(out, "ritual-1") != 1 || !strings.Contains(out, "1 shown") {
		t.Fatalf("limit:\n%s", out)
	}
}

func TestSnapshotDescribe(t *testing.T) {
	dir := t.TempDir()
	snap := snapshot.SnapshotV1{
		Header:    snapshot.Header{Version: snapshot.Version, Tick: 1200},
		TickRate:  20,
		DayLength: 24000,
		Lunar:     []snapshot.LunarV1{{Env: "overworld", Day: 4}},
		Counters:  snapshot.CountersV1{GroupsFormed: 1234, SessionsEnded: map[string]uint64{"completed": 3}},
	}
	if err := snapshot.WriteSnapshot(snapshot.Path(dir), snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := runAdmin(t, "--data", dir, "snapshot")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, want := range []string{"tick=1200", "groups_formed=1,234", "overworld", "completed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("snapshot output missing %q:\n%s", want, out)
		}
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("portal_ttl_ticks: 600\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("formation_poll_ticks: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runAdmin(t, "validate", good)
	if err != nil || !strings.Contains(out, "portal_ttl_ticks=600") {
		t.Fatalf("good: %v\n%s", err, out)
	}
	if _, err := runAdmin(t, "validate", bad); err == nil {
		t.Fatal("expected bad tuning to fail")
	}
	if _, err := runAdmin(t, "validate"); err == nil {
		t.Fatal("expected missing argument to fail")
	}
}
