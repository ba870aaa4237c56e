package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Defaults()
	if c.Effects.Default != "mist" || c.Cues.Default != "chime" {
		t.Fatalf("defaults: effect=%q cue=%q", c.Effects.Default, c.Cues.Default)
	}
	if got, ok := c.Effects.Resolve("no-such-effect"); ok || got != "mist" {
		t.Fatalf("resolve unknown: got %q,%v", got, ok)
	}
	if got, ok := c.Cues.Resolve("bell"); !ok || got != "bell" {
		t.Fatalf("resolve known: got %q,%v", got, ok)
	}
	if c.Effects.Digest == "" || len(c.Effects.IDs) != len(c.Effects.Defs) {
		t.Fatalf("palette not indexed: %+v", c.Effects)
	}
}

func TestLoad_OverridesAndFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "effects.json"), []byte(`[{"id":"fog","default":true}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Effects.Default != "fog" || len(c.Effects.IDs) != 1 {
		t.Fatalf("effects: %+v", c.Effects)
	}
	if c.Cues.Default != "chime" {
		t.Fatalf("cues should come from builtin: %+v", c.Cues)
	}
}

func TestLoad_RejectsBadPalettes(t *testing.T) {
	for name, body := range map[string]string{
		"no default": `[{"id":"a"}]`,
		"two":        `[{"id":"a","default":true},{"id":"b","default":true}]`,
		"empty id":   `[{"id":"","default":true}]`,
		"dup":        `[{"id":"a","default":true},{"id":"a"}]`,
	} {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "cues.json"), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(dir); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
