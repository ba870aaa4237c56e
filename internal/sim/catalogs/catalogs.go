// Package catalogs holds the presentation identifiers the engine may hand to
// the game adapter. Unknown identifiers are replaced by the catalog default.
package catalogs

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

//go:embed defaults/*.json
var builtin embed.FS

type Catalogs struct {
	Effects Palette
	Cues    Palette
}

type Def struct {
	ID      string `json:"id"`
	Default bool   `json:"default,omitempty"`
	// MaxIntensity caps emit intensity for effects; 0 means no cap.
	MaxIntensity float64 `json:"max_intensity,omitempty"`
}

type Palette struct {
	IDs     []string
	Defs    map[string]Def
	Default string
	Digest  string
}

func (p Palette) Has(id string) bool {
	_, ok := p.Defs[id]
	return ok
}

// Resolve returns id when known, otherwise the default and false.
func (p Palette) Resolve(id string) (string, bool) {
	if p.Has(id) {
		return id, true
	}
	return p.Default, false
}

// Defaults returns the catalogs compiled into the binary.
func Defaults() *Catalogs {
	c, err := load(builtin, "defaults")
	if err != nil {
		panic(fmt.Sprintf("catalogs: builtin: %v", err))
	}
	return c
}

// Load reads effects.json and cues.json from dir. A file missing from dir
// falls back to the builtin one.
func Load(dir string) (*Catalogs, error) {
	var c Catalogs
	for _, f := range []struct {
		name string
		out  *Palette
	}{{"effects.json", &c.Effects}, {"cues.json", &c.Cues}} {
		raw, err := os.ReadFile(filepath.Join(dir, f.name))
		if errors.Is(err, fs.ErrNotExist) {
			raw, err = builtin.ReadFile("defaults/" + f.name)
		}
		if err != nil {
			return nil, err
		}
		if err := parsePalette(f.name, raw, f.out); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func load(fsys fs.FS, dir string) (*Catalogs, error) {
	var c Catalogs
	raw, err := fs.ReadFile(fsys, dir+"/effects.json")
	if err != nil {
		return nil, err
	}
	if err := parsePalette("effects.json", raw, &c.Effects); err != nil {
		return nil, err
	}
	raw, err = fs.ReadFile(fsys, dir+"/cues.json")
	if err != nil {
		return nil, err
	}
	if err := parsePalette("cues.json", raw, &c.Cues); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func parsePalette(name string, raw []byte, out *Palette) error {
	var defs []Def
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	out.Defs = map[string]Def{}
	out.Default = ""
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("%s: empty id", name)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("%s: duplicate id %q", name, d.ID)
		}
		if d.MaxIntensity < 0 {
			return fmt.Errorf("%s: %s max_intensity must be >= 0", name, d.ID)
		}
		if d.Default {
			if out.Default != "" {
				return fmt.Errorf("%s: more than one default (%s, %s)", name, out.Default, d.ID)
			}
			out.Default = d.ID
		}
		out.Defs[d.ID] = d
	}
	if out.Default == "" {
		return fmt.Errorf("%s: missing default entry", name)
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	palJSON, _ := json.Marshal(ids)
	out.Digest = sha256Hex(palJSON)
	return nil
}
