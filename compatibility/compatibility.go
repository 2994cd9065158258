/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package compatibility

import (
	"fmt"
	"strings"
)

// Format is the data format a schema definition is written in
type Format string

const (
	FormatJSON     Format = `json`
	FormatProtobuf Format = `protobuf`
	FormatAvro     Format = `avro`
	FormatBytes    Format = `bytes`
)

// Valid reports whether f is one of the known formats
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatProtobuf, FormatAvro, FormatBytes:
		return true
	}

	return false
}

// ParseFormat accepts the format names case-insensitively
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return ``, fmt.Errorf(`unknown data format [%s]`, s)
	}

	return f, nil
}

// Mode is the policy governing which structural changes between versions are permitted
type Mode string

const (
	ModeNone        Mode = `none`
	ModeBackward    Mode = `backward`
	ModeForward     Mode = `forward`
	ModeFull        Mode = `full`
	ModeBackwardAll Mode = `backward-all`
	ModeForwardAll  Mode = `forward-all`
	ModeFullAll     Mode = `full-all`
)

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeBackward, ModeForward, ModeFull, ModeBackwardAll, ModeForwardAll, ModeFullAll:
		return true
	}

	return false
}

// Transitive reports whether the mode is checked against every prior version
func (m Mode) Transitive() bool {
	return m == ModeBackwardAll || m == ModeForwardAll || m == ModeFullAll
}

// Directions returns the directions a change must not break under m
func (m Mode) Directions() Direction {
	switch m {
	case ModeBackward, ModeBackwardAll:
		return Backward
	case ModeForward, ModeForwardAll:
		return Forward
	case ModeFull, ModeFullAll:
		return Backward | Forward
	}

	return 0
}

// ParseMode accepts mode names case-insensitively, `_` and `transitive` spellings included
func ParseMode(s string) (Mode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, `_`, `-`)
	v = strings.Replace(v, `-transitive`, `-all`, 1)
	m := Mode(v)
	if !m.Valid() {
		return ``, fmt.Errorf(`unknown compatibility mode [%s]`, s)
	}

	return m, nil
}

// Direction is a bit set of the read directions a change breaks
type Direction uint8

const (
	// Backward means the candidate can read data written with the prior definition
	Backward Direction = 1 << iota
	// Forward means the prior definition can read data written with the candidate
	Forward
)

func (d Direction) String() string {
	switch d {
	case Backward:
		return `backward`
	case Forward:
		return `forward`
	case Backward | Forward:
		return `backward,forward`
	}

	return `none`
}

// Kind classifies a structural change
type Kind string

const (
	KindRequiredFieldRemoved   Kind = `required field removed`
	KindRequiredFieldAdded     Kind = `required field added`
	KindTypeChanged            Kind = `type changed`
	KindFieldRenamed           Kind = `field renamed without alias`
	KindEnumValueRemoved       Kind = `enum value removed`
	KindEnumValueAdded         Kind = `enum value added`
	KindFieldAddedToClosed     Kind = `field added to closed object`
	KindFieldRemovedFromClosed Kind = `field removed from closed object`
	KindAdditionalClosed       Kind = `additional properties restricted`
	KindUnionBranchRemoved     Kind = `union branch removed`
	KindFixedSizeChanged       Kind = `fixed size changed`
	KindNamedTypeRenamed       Kind = `named type renamed`
	KindMessageRemoved         Kind = `message removed`
	KindFieldRemovedUnreserved Kind = `field removed without reservation`
	KindCardinalityChanged     Kind = `cardinality changed`
	KindOneofMembershipChanged Kind = `oneof membership changed`
	KindDefinitionChanged      Kind = `definition changed`
)

// Change is a structural difference between a prior and a candidate definition
type Change struct {
	Kind   Kind
	Path   string
	Detail string
	Breaks Direction
}

// Violation is a change that breaks the mode a check was run under
type Violation struct {
	Kind   Kind   `json:"kind"`
	Path   string `json:"path"`
	Detail string `json:"detail"`
	// Version is the prior version number the candidate was compared with
	Version int `json:"version"`
}

func (v Violation) String() string {
	if v.Path == `` {
		return fmt.Sprintf(`v%d: %s: %s`, v.Version, v.Kind, v.Detail)
	}

	return fmt.Sprintf(`v%d: %s at [%s]: %s`, v.Version, v.Kind, v.Path, v.Detail)
}

// Result is the verdict of a compatibility check
type Result struct {
	Compatible bool        `json:"compatible"`
	Violations []Violation `json:"violations,omitempty"`
}

// Definition is a parsed, format specific schema definition
type Definition interface{}

// Differ is the structural comparator of one data format
type Differ interface {
	Format() Format
	// Parse validates raw and returns its parsed form
	Parse(raw []byte) (Definition, error)
	// Diff lists the changes from prior to candidate
	Diff(prior, candidate Definition) []Change
}

func joinPath(parent, child string) string {
	if parent == `` {
		return child
	}

	return parent + `.` + child
}
