/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package compatibility

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

type protobufDiffer struct{}

// NewProtobufDiffer returns the differ for Protobuf definitions. A definition
// is a google.protobuf.FileDescriptorSet in binary or protojson encoding
// holding the schema files and all of their imports.
func NewProtobufDiffer() Differ {
	return protobufDiffer{}
}

func (protobufDiffer) Format() Format {
	return FormatProtobuf
}

type protoDefinition struct {
	messages map[protoreflect.FullName]protoreflect.MessageDescriptor
	enums    map[protoreflect.FullName]protoreflect.EnumDescriptor
}

func (protobufDiffer) Parse(raw []byte) (Definition, error) {
	set := new(descriptorpb.FileDescriptorSet)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := protojson.Unmarshal(trimmed, set); err != nil {
			return nil, fmt.Errorf(`file descriptor set json: %w`, err)
		}
	} else if err := proto.Unmarshal(raw, set); err != nil {
		return nil, fmt.Errorf(`file descriptor set: %w`, err)
	}

	if len(set.GetFile()) == 0 {
		return nil, fmt.Errorf(`file descriptor set has no files`)
	}

	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, err
	}

	def := &protoDefinition{
		messages: make(map[protoreflect.FullName]protoreflect.MessageDescriptor),
		enums:    make(map[protoreflect.FullName]protoreflect.EnumDescriptor),
	}

	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		if isWellKnownProto(fd.Path()) {
			return true
		}

		collectProtoEnums(def, fd.Enums())
		collectProtoMessages(def, fd.Messages())
		return true
	})

	return def, nil
}

// isWellKnownProto reports whether path is one of the google/protobuf files
// shipped with protoc. Every other file of a set is compared, imported or not.
func isWellKnownProto(path string) bool {
	return strings.HasPrefix(path, `google/protobuf/`)
}

func collectProtoMessages(def *protoDefinition, msgs protoreflect.MessageDescriptors) {
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		if md.IsMapEntry() {
			continue
		}

		def.messages[md.FullName()] = md
		collectProtoEnums(def, md.Enums())
		collectProtoMessages(def, md.Messages())
	}
}

func collectProtoEnums(def *protoDefinition, enums protoreflect.EnumDescriptors) {
	for i := 0; i < enums.Len(); i++ {
		ed := enums.Get(i)
		def.enums[ed.FullName()] = ed
	}
}

func (protobufDiffer) Diff(prior, candidate Definition) []Change {
	p, c := prior.(*protoDefinition), candidate.(*protoDefinition)
	var changes []Change
	add := func(kind Kind, path string, breaks Direction, format string, args ...interface{}) {
		changes = append(changes, Change{Kind: kind, Path: path, Detail: fmt.Sprintf(format, args...), Breaks: breaks})
	}

	for _, name := range sortedProtoNames(p.messages) {
		pm := p.messages[name]
		cm, ok := c.messages[name]
		if !ok {
			add(KindMessageRemoved, string(name), Backward, `message [%s] removed`, name)
			continue
		}

		compareProtoMessages(add, pm, cm)
	}

	for _, name := range sortedProtoEnumNames(p.enums) {
		ce, ok := c.enums[name]
		if !ok {
			// reported by the message or field that used it
			continue
		}

		pv := p.enums[name].Values()
		cv := ce.Values()
		for i := 0; i < pv.Len(); i++ {
			v := pv.Get(i)
			if cv.ByNumber(v.Number()) == nil && !ce.ReservedRanges().Has(v.Number()) {
				add(KindEnumValueRemoved, string(name)+`.`+string(v.Name()), Backward,
					`enum value [%s = %d] removed`, v.Name(), v.Number())
			}
		}
	}

	return changes
}

type protoAddFunc func(kind Kind, path string, breaks Direction, format string, args ...interface{})

func compareProtoMessages(add protoAddFunc, prior, cand protoreflect.MessageDescriptor) {
	base := string(prior.FullName())
	pf, cf := prior.Fields(), cand.Fields()

	for i := 0; i < pf.Len(); i++ {
		f := pf.Get(i)
		path := base + `.` + string(f.Name())
		nf := cf.ByNumber(f.Number())

		if nf == nil {
			if f.Cardinality() == protoreflect.Required {
				add(KindRequiredFieldRemoved, path, Backward|Forward,
					`required field [%s = %d] removed`, f.Name(), f.Number())
				continue
			}

			if !cand.ReservedRanges().Has(f.Number()) && !cand.ReservedNames().Has(f.Name()) {
				add(KindFieldRemovedUnreserved, path, Backward,
					`field [%s = %d] removed without reserving its number or name`, f.Name(), f.Number())
			}
			continue
		}

		if f.IsList() != nf.IsList() || f.IsMap() != nf.IsMap() {
			add(KindCardinalityChanged, path, Backward|Forward,
				`field [%d] changed from %s to %s`, f.Number(), protoCardinality(f), protoCardinality(nf))
			continue
		}

		if f.Cardinality() != protoreflect.Required && nf.Cardinality() == protoreflect.Required {
			add(KindRequiredFieldAdded, path, Backward, `field [%d] became required`, f.Number())
		} else if f.Cardinality() == protoreflect.Required && nf.Cardinality() != protoreflect.Required {
			add(KindRequiredFieldRemoved, path, Forward, `field [%d] is no longer required`, f.Number())
		}

		if realOneof(f) != realOneof(nf) {
			add(KindOneofMembershipChanged, path, Backward|Forward,
				`field [%d] moved between oneof [%s] and [%s]`, f.Number(), realOneof(f), realOneof(nf))
		}

		if f.IsMap() {
			compareProtoKinds(add, path+`{}`, f.MapValue(), nf.MapValue())
			continue
		}

		compareProtoKinds(add, path, f, nf)
	}

	for i := 0; i < cf.Len(); i++ {
		f := cf.Get(i)
		if pf.ByNumber(f.Number()) != nil {
			continue
		}

		if f.Cardinality() == protoreflect.Required {
			add(KindRequiredFieldAdded, base+`.`+string(f.Name()), Backward,
				`required field [%s = %d] added`, f.Name(), f.Number())
		}
	}
}

func compareProtoKinds(add protoAddFunc, path string, prior, cand protoreflect.FieldDescriptor) {
	pk, ck := prior.Kind(), cand.Kind()

	if protoWireGroup(pk) != protoWireGroup(ck) {
		add(KindTypeChanged, path, Backward|Forward, `field [%d] changed from %s to %s`, prior.Number(), pk, ck)
		return
	}

	switch pk {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		if ck == pk && prior.Message().FullName() != cand.Message().FullName() {
			add(KindTypeChanged, path, Backward|Forward, `field [%d] message type changed from %s to %s`,
				prior.Number(), prior.Message().FullName(), cand.Message().FullName())
		}
	case protoreflect.EnumKind:
		if ck == pk && prior.Enum().FullName() != cand.Enum().FullName() {
			add(KindTypeChanged, path, Backward|Forward, `field [%d] enum type changed from %s to %s`,
				prior.Number(), prior.Enum().FullName(), cand.Enum().FullName())
		}
	}
}

// protoWireGroup groups kinds whose encodings can be read as one another
func protoWireGroup(k protoreflect.Kind) string {
	switch k {
	case protoreflect.Int32Kind, protoreflect.Uint32Kind, protoreflect.Int64Kind,
		protoreflect.Uint64Kind, protoreflect.BoolKind, protoreflect.EnumKind:
		return `varint`
	case protoreflect.Sint32Kind, protoreflect.Sint64Kind:
		return `zigzag`
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind:
		return `fixed32`
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind:
		return `fixed64`
	case protoreflect.FloatKind:
		return `float`
	case protoreflect.DoubleKind:
		return `double`
	case protoreflect.StringKind, protoreflect.BytesKind:
		return `bytes`
	case protoreflect.MessageKind:
		return `message`
	case protoreflect.GroupKind:
		return `group`
	}

	return k.String()
}

func protoCardinality(f protoreflect.FieldDescriptor) string {
	switch {
	case f.IsMap():
		return `map`
	case f.IsList():
		return `repeated`
	}

	return `singular`
}

func realOneof(f protoreflect.FieldDescriptor) protoreflect.Name {
	o := f.ContainingOneof()
	if o == nil || o.IsSynthetic() {
		return ``
	}

	return o.Name()
}

func sortedProtoNames(m map[protoreflect.FullName]protoreflect.MessageDescriptor) []protoreflect.FullName {
	names := make([]protoreflect.FullName, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names
}

func sortedProtoEnumNames(m map[protoreflect.FullName]protoreflect.EnumDescriptor) []protoreflect.FullName {
	names := make([]protoreflect.FullName, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names
}
