// Package params implements the string-keyed parameter table consulted
// by SetParameter and GetParameter. Snapshot and Restore export and
// re-apply the whole table, but the index coordinator's Save and Load
// do not call them: parameter values are not written to a snapshot, and
// Load takes them from the Config it is given. The original SPTAG index
// builds this table with a macro (`#include "ParameterDefinitionList.h"`
// expanded once per concern); Go has no equivalent preprocessor, so it
// collapses to a single descriptor slice built once by the owner and
// consulted by name, per the REDESIGN FLAGS note in the specification.
package params

import (
	"fmt"
	"sort"
	"strconv"
)

// Descriptor binds one named parameter to accessor closures owned by
// whatever struct exposes it (typically the index coordinator).
type Descriptor struct {
	Name string
	Get  func() string
	Set  func(value string) error
}

// Table is a lookup over a fixed set of descriptors, registered once at
// construction time.
type Table struct {
	byName map[string]Descriptor
	order  []string
}

func NewTable(descriptors ...Descriptor) *Table {
	t := &Table{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		t.byName[d.Name] = d
		t.order = append(t.order, d.Name)
	}
	return t
}

// Get returns the current value of name, or "" if name is unknown.
func (t *Table) Get(name string) string {
	d, ok := t.byName[name]
	if !ok {
		return ""
	}
	return d.Get()
}

// Set applies value to name. Unknown keys are ignored, matching the
// original's GetParameter/SetParameter behavior for unrecognized names.
func (t *Table) Set(name, value string) error {
	d, ok := t.byName[name]
	if !ok {
		return nil
	}
	return d.Set(value)
}

// Names returns every registered parameter name, in registration order.
func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Snapshot returns the current value of every parameter, suitable for
// Save.
func (t *Table) Snapshot() map[string]string {
	out := make(map[string]string, len(t.order))
	for _, name := range t.order {
		out[name] = t.byName[name].Get()
	}
	return out
}

// Restore applies a saved snapshot produced by Snapshot, for Load.
// Unknown keys in the snapshot are ignored; sorted iteration keeps
// errors reproducible across runs.
func (t *Table) Restore(values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := t.Set(name, values[name]); err != nil {
			return fmt.Errorf("params: restoring %s: %w", name, err)
		}
	}
	return nil
}

// IntSetter and friends adapt a *int/*float64/*string field into a
// Set closure that parses and validates before assigning.

func IntSetter(dst *int) func(string) error {
	return func(value string) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func FloatSetter(dst *float64) func(string) error {
	return func(value string) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func StringSetter(dst *string) func(string) error {
	return func(value string) error {
		*dst = value
		return nil
	}
}

func IntGetter(src *int) func() string {
	return func() string { return strconv.Itoa(*src) }
}

func FloatGetter(src *float64) func() string {
	return func() string { return strconv.FormatFloat(*src, 'f', -1, 64) }
}

func StringGetter(src *string) func() string {
	return func() string { return *src }
}
