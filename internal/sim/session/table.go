package session

import (
	"errors"
	"fmt"
	"sort"
)

type Phase struct {
	Name  string
	Ticks int
}

// Table is the phase machine definition for one (kind, variant).
type Table struct {
	Kind    Kind
	Variant string
	Phases  []Phase
	// LoopFrom is the phase index the machine wraps to after the last phase.
	// A negative value makes the session terminal after the last phase.
	LoopFrom int
	// Next is started for the same owner when the session completes naturally.
	Next Kind
	Rule Rule
}

func (t Table) Name() string {
	if t.Variant == "" {
		return t.Kind.String()
	}
	return t.Kind.String() + "/" + t.Variant
}

func (t Table) Loops() bool { return t.LoopFrom >= 0 }

// TotalTicks is the length of one pass through every phase.
func (t Table) TotalTicks() int {
	n := 0
	for _, p := range t.Phases {
		n += p.Ticks
	}
	return n
}

func (t Table) Validate() error {
	name := t.Name()
	if !t.Kind.Valid() {
		return fmt.Errorf("table %s: invalid kind", name)
	}
	if len(t.Phases) == 0 {
		return fmt.Errorf("table %s: no phases", name)
	}
	var errs []error
	for i, p := range t.Phases {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("table %s: phase %d has empty name", name, i))
		}
		if p.Ticks <= 0 {
			errs = append(errs, fmt.Errorf("table %s: phase %d (%s) duration must be > 0, got %d", name, i, p.Name, p.Ticks))
		}
	}
	if t.LoopFrom >= len(t.Phases) {
		errs = append(errs, fmt.Errorf("table %s: loop_from %d out of range [0,%d)", name, t.LoopFrom, len(t.Phases)))
	}
	if t.Next != 0 && !t.Next.Valid() {
		errs = append(errs, fmt.Errorf("table %s: invalid next kind", name))
	}
	if t.Next == t.Kind {
		errs = append(errs, fmt.Errorf("table %s: next must differ from kind", name))
	}
	if t.Kind.Grouped() != (t.Rule == RuleGroup) {
		errs = append(errs, fmt.Errorf("table %s: rule %s does not match owner type", name, t.Rule))
	}
	return errors.Join(errs...)
}

type TableKey struct {
	Kind    Kind
	Variant string
}

type Tables map[TableKey]Table

func NewTables(ts ...Table) Tables {
	out := Tables{}
	for _, t := range ts {
		out[TableKey{Kind: t.Kind, Variant: t.Variant}] = t
	}
	return out
}

// Lookup resolves (kind, variant), falling back to the kind's base table.
func (ts Tables) Lookup(kind Kind, variant string) (Table, bool) {
	if t, ok := ts[TableKey{Kind: kind, Variant: variant}]; ok {
		return t, true
	}
	if variant != "" {
		if t, ok := ts[TableKey{Kind: kind}]; ok {
			return t, true
		}
	}
	return Table{}, false
}

func (ts Tables) Validate() error {
	keys := make([]TableKey, 0, len(ts))
	for k := range ts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].Variant < keys[j].Variant
	})
	var errs []error
	for _, k := range keys {
		t := ts[k]
		if t.Kind != k.Kind || t.Variant != k.Variant {
			errs = append(errs, fmt.Errorf("table %s registered under %s/%s", t.Name(), k.Kind, k.Variant))
			continue
		}
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fallbackTable keeps Start infallible when a table is missing.
func fallbackTable(kind Kind, variant string) Table {
	rule := RuleSleeping
	if kind.Grouped() {
		rule = RuleGroup
	}
	return Table{
		Kind:     kind,
		Variant:  variant,
		Phases:   []Phase{{Name: "default", Ticks: 20}},
		LoopFrom: -1,
		Rule:     rule,
	}
}
