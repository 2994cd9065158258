package compatibility

import (
	"bytes"
	"fmt"
)

type bytesDiffer struct{}

// NewBytesDiffer returns the differ for opaque definitions. Nothing can be
// known about their structure, so any change breaks both directions.
func NewBytesDiffer() Differ {
	return bytesDiffer{}
}

func (bytesDiffer) Format() Format {
	return FormatBytes
}

func (bytesDiffer) Parse(raw []byte) (Definition, error) {
	return raw, nil
}

func (bytesDiffer) Diff(prior, candidate Definition) []Change {
	p, c := prior.([]byte), candidate.([]byte)
	if bytes.Equal(p, c) {
		return nil
	}

	return []Change{{
		Kind:   KindDefinitionChanged,
		Detail: fmt.Sprintf(`opaque definition changed (%d -> %d bytes)`, len(p), len(c)),
		Breaks: Backward | Forward,
	}}
}
