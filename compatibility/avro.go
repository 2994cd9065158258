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

	"github.com/hamba/avro/v2"
)

type avroDiffer struct{}

// NewAvroDiffer returns the differ for Avro schemas
func NewAvroDiffer() Differ {
	return avroDiffer{}
}

func (avroDiffer) Format() Format {
	return FormatAvro
}

// Parse uses a private cache per definition so that named types of different
// versions never resolve to each other.
func (avroDiffer) Parse(raw []byte) (Definition, error) {
	return avro.ParseWithCache(string(raw), ``, &avro.SchemaCache{})
}

func (avroDiffer) Diff(prior, candidate Definition) []Change {
	w := &avroWalker{seen: make(map[string]bool)}
	w.walk(``, prior.(avro.Schema), candidate.(avro.Schema))

	return w.changes
}

type avroWalker struct {
	changes []Change
	seen    map[string]bool
}

func (w *avroWalker) add(kind Kind, path string, breaks Direction, format string, args ...interface{}) {
	w.changes = append(w.changes, Change{
		Kind:   kind,
		Path:   path,
		Detail: fmt.Sprintf(format, args...),
		Breaks: breaks,
	})
}

func derefAvro(s avro.Schema) avro.Schema {
	if ref, ok := s.(*avro.RefSchema); ok {
		return ref.Schema()
	}

	return s
}

func (w *avroWalker) walk(path string, prior, cand avro.Schema) {
	prior, cand = derefAvro(prior), derefAvro(cand)

	// recursive named types are compared once per pair
	pn, pok := prior.(avro.NamedSchema)
	cn, cok := cand.(avro.NamedSchema)
	if pok && cok {
		key := pn.FullName() + `|` + cn.FullName()
		if w.seen[key] {
			return
		}
		w.seen[key] = true
	}

	pu, pUnion := prior.(*avro.UnionSchema)
	cu, cUnion := cand.(*avro.UnionSchema)
	switch {
	case pUnion && cUnion:
		w.compareUnions(path, pu, cu)
		return
	case pUnion:
		w.compareUnionToSingle(path, pu, cand)
		return
	case cUnion:
		w.compareSingleToUnion(path, prior, cu)
		return
	}

	if prior.Type() != cand.Type() {
		var breaks Direction
		if !avroPromotable(prior.Type(), cand.Type()) {
			breaks |= Backward
		}
		if !avroPromotable(cand.Type(), prior.Type()) {
			breaks |= Forward
		}

		w.add(KindTypeChanged, path, breaks, `type changed from [%s] to [%s]`, prior.Type(), cand.Type())
		return
	}

	if pok && cok && !avroNamesMatch(pn, cn) {
		w.add(KindNamedTypeRenamed, path, Backward|Forward,
			`named type [%s] renamed to [%s] without alias`, pn.FullName(), cn.FullName())
	}

	switch p := prior.(type) {
	case *avro.RecordSchema:
		w.compareRecords(path, p, cand.(*avro.RecordSchema))
	case *avro.EnumSchema:
		w.compareEnums(path, p, cand.(*avro.EnumSchema))
	case *avro.FixedSchema:
		c := cand.(*avro.FixedSchema)
		if p.Size() != c.Size() {
			w.add(KindFixedSizeChanged, path, Backward|Forward,
				`fixed size changed from %d to %d`, p.Size(), c.Size())
		}
	case *avro.ArraySchema:
		w.walk(path+`[]`, p.Items(), cand.(*avro.ArraySchema).Items())
	case *avro.MapSchema:
		w.walk(path+`{}`, p.Values(), cand.(*avro.MapSchema).Values())
	}
}

func (w *avroWalker) compareRecords(path string, prior, cand *avro.RecordSchema) {
	matched := make(map[*avro.Field]bool)
	var removed []*avro.Field
	priorIndex := make(map[*avro.Field]int)

	for i, pf := range prior.Fields() {
		priorIndex[pf] = i
		cf := findAvroField(cand.Fields(), pf)
		if cf == nil {
			removed = append(removed, pf)
			continue
		}

		matched[cf] = true
		w.walk(joinPath(path, cf.Name()), pf.Type(), cf.Type())
	}

	var added []*avro.Field
	candIndex := make(map[*avro.Field]int)
	for i, cf := range cand.Fields() {
		candIndex[cf] = i
		if !matched[cf] {
			added = append(added, cf)
		}
	}

	// a removed and an added field of the same type at the same position is a rename
	renamed := make(map[*avro.Field]bool)
	for _, pf := range removed {
		for _, cf := range added {
			if renamed[cf] || priorIndex[pf] != candIndex[cf] {
				continue
			}

			if pf.Type().Fingerprint() != cf.Type().Fingerprint() {
				continue
			}

			renamed[pf], renamed[cf] = true, true

			var breaks Direction
			if !cf.HasDefault() {
				breaks |= Backward
			}
			if !pf.HasDefault() {
				breaks |= Forward
			}
			if breaks != 0 {
				w.add(KindFieldRenamed, joinPath(path, pf.Name()), breaks,
					`[%s] renamed to [%s]`, pf.Name(), cf.Name())
			}
			break
		}
	}

	for _, pf := range removed {
		if renamed[pf] || pf.HasDefault() {
			continue
		}

		w.add(KindRequiredFieldRemoved, joinPath(path, pf.Name()), Backward|Forward,
			`[%s] removed and has no default`, pf.Name())
	}

	for _, cf := range added {
		if renamed[cf] || cf.HasDefault() {
			continue
		}

		w.add(KindRequiredFieldAdded, joinPath(path, cf.Name()), Backward,
			`[%s] added without a default`, cf.Name())
	}
}

func (w *avroWalker) compareEnums(path string, prior, cand *avro.EnumSchema) {
	ps, cs := make(map[string]bool), make(map[string]bool)
	for _, s := range prior.Symbols() {
		ps[s] = true
	}
	for _, s := range cand.Symbols() {
		cs[s] = true
	}

	for _, s := range prior.Symbols() {
		if !cs[s] && cand.Default() == `` {
			w.add(KindEnumValueRemoved, path, Backward, `symbol [%s] removed`, s)
		}
	}

	for _, s := range cand.Symbols() {
		if !ps[s] && prior.Default() == `` {
			w.add(KindEnumValueAdded, path, Forward, `symbol [%s] added`, s)
		}
	}
}

func (w *avroWalker) compareUnions(path string, prior, cand *avro.UnionSchema) {
	for _, pt := range prior.Types() {
		if avroUnionResolves(cand, pt) == nil {
			w.add(KindUnionBranchRemoved, path, Backward, `branch [%s] is no longer readable`, avroTypeName(pt))
		}
	}

	for _, ct := range cand.Types() {
		if avroUnionResolves(prior, ct) == nil {
			w.add(KindTypeChanged, path, Forward, `branch [%s] added`, avroTypeName(ct))
		}
	}

	for _, pt := range prior.Types() {
		ct := avroUnionResolves(cand, pt)
		if ct == nil {
			continue
		}

		if _, ok := derefAvro(pt).(avro.NamedSchema); ok {
			w.walk(path, pt, ct)
			continue
		}

		switch derefAvro(pt).Type() {
		case avro.Array, avro.Map:
			w.walk(path, pt, ct)
		}
	}
}

// compareUnionToSingle handles a union narrowed to one of its branches
func (w *avroWalker) compareUnionToSingle(path string, prior *avro.UnionSchema, cand avro.Schema) {
	for _, pt := range prior.Types() {
		if avroSameKind(pt, cand) {
			w.add(KindUnionBranchRemoved, path, Backward, `union narrowed to [%s]`, avroTypeName(cand))
			w.walk(path, pt, cand)
			return
		}
	}

	w.add(KindTypeChanged, path, Backward|Forward, `union replaced with [%s]`, avroTypeName(cand))
}

// compareSingleToUnion handles a type widened into a union
func (w *avroWalker) compareSingleToUnion(path string, prior avro.Schema, cand *avro.UnionSchema) {
	for _, ct := range cand.Types() {
		if avroSameKind(prior, ct) {
			w.add(KindTypeChanged, path, Forward, `[%s] widened into a union`, avroTypeName(prior))
			w.walk(path, prior, ct)
			return
		}
	}

	w.add(KindTypeChanged, path, Backward|Forward, `[%s] replaced with a union`, avroTypeName(prior))
}

func avroUnionResolves(u *avro.UnionSchema, writer avro.Schema) avro.Schema {
	for _, t := range u.Types() {
		if avroSameKind(t, writer) {
			return t
		}
	}

	for _, t := range u.Types() {
		if avroPromotable(derefAvro(writer).Type(), derefAvro(t).Type()) {
			return t
		}
	}

	return nil
}

func avroSameKind(a, b avro.Schema) bool {
	a, b = derefAvro(a), derefAvro(b)
	if a.Type() != b.Type() {
		return false
	}

	an, aok := a.(avro.NamedSchema)
	bn, bok := b.(avro.NamedSchema)
	if aok && bok {
		return avroNamesMatch(an, bn)
	}

	return true
}

func avroNamesMatch(prior, cand avro.NamedSchema) bool {
	if prior.FullName() == cand.FullName() || prior.Name() == cand.Name() {
		return true
	}

	for _, alias := range cand.Aliases() {
		if alias == prior.FullName() || alias == prior.Name() {
			return true
		}
	}

	return false
}

func findAvroField(fields []*avro.Field, target *avro.Field) *avro.Field {
	for _, f := range fields {
		if f.Name() == target.Name() {
			return f
		}
	}

	for _, f := range fields {
		for _, alias := range f.Aliases() {
			if alias == target.Name() {
				return f
			}
		}
	}

	return nil
}

// avroPromotable reports whether data written as writer can be read as reader
func avroPromotable(writer, reader avro.Type) bool {
	if writer == reader {
		return true
	}

	switch writer {
	case avro.Int:
		return reader == avro.Long || reader == avro.Float || reader == avro.Double
	case avro.Long:
		return reader == avro.Float || reader == avro.Double
	case avro.Float:
		return reader == avro.Double
	case avro.String:
		return reader == avro.Bytes
	case avro.Bytes:
		return reader == avro.String
	}

	return false
}

func avroTypeName(s avro.Schema) string {
	s = derefAvro(s)
	if n, ok := s.(avro.NamedSchema); ok {
		return n.FullName()
	}

	return strings.ToLower(string(s.Type()))
}
