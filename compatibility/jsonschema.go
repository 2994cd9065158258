package compatibility

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const jsonDefinitionURL = `mem:///definition.json`

type jsonDiffer struct{}

// NewJSONDiffer returns the differ for JSON Schema definitions
func NewJSONDiffer() Differ {
	return jsonDiffer{}
}

func (jsonDiffer) Format() Format {
	return FormatJSON
}

func (jsonDiffer) Parse(raw []byte) (Definition, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf(`empty JSON schema`)
	}

	c := jsonschema.NewCompiler()
	c.ExtractAnnotations = true
	c.LoadURL = func(s string) (io.ReadCloser, error) {
		return nil, fmt.Errorf(`external reference [%s] is not supported`, s)
	}

	if err := c.AddResource(jsonDefinitionURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return c.Compile(jsonDefinitionURL)
}

func (jsonDiffer) Diff(prior, candidate Definition) []Change {
	w := &jsonWalker{seen: make(map[[2]*jsonschema.Schema]bool)}
	w.walk(``, prior.(*jsonschema.Schema), candidate.(*jsonschema.Schema))

	return w.changes
}

// jsonNode is the flattened view of a schema after following $ref and allOf
type jsonNode struct {
	types      []string
	properties map[string]*jsonschema.Schema
	required   map[string]bool
	closed     bool
	enum       []interface{}
	items      *jsonschema.Schema
}

func flattenJSON(s *jsonschema.Schema) *jsonNode {
	n := &jsonNode{
		properties: make(map[string]*jsonschema.Schema),
		required:   make(map[string]bool),
	}
	flattenJSONInto(n, s, make(map[*jsonschema.Schema]bool))

	return n
}

func flattenJSONInto(n *jsonNode, s *jsonschema.Schema, visited map[*jsonschema.Schema]bool) {
	if s == nil || visited[s] {
		return
	}
	visited[s] = true

	// referenced and allOf schemas first, the schema's own keywords narrow them
	flattenJSONInto(n, s.Ref, visited)
	for _, sub := range s.AllOf {
		flattenJSONInto(n, sub, visited)
	}

	if len(s.Types) > 0 {
		n.types = intersectJSONTypes(n.types, s.Types)
	}
	for name, p := range s.Properties {
		n.properties[name] = p
	}
	for _, r := range s.Required {
		n.required[r] = true
	}
	if b, ok := s.AdditionalProperties.(bool); ok && !b {
		n.closed = true
	}
	if s.Enum != nil {
		n.enum = s.Enum
	}

	switch items := s.Items.(type) {
	case *jsonschema.Schema:
		n.items = items
	}
	if s.Items2020 != nil {
		n.items = s.Items2020
	}
}

// intersectJSONTypes returns the types both sets accept. An empty have means
// any type. A disjoint pair keeps want, the schema's own types.
func intersectJSONTypes(have, want []string) []string {
	if len(have) == 0 {
		return want
	}

	var out []string
	for _, w := range want {
		if jsonTypesAccept(have, []string{w}) {
			out = append(out, w)
			continue
		}
		if w == `number` && jsonTypesAccept([]string{`integer`}, have) {
			out = append(out, `integer`)
		}
	}

	if len(out) == 0 {
		return want
	}

	return out
}

type jsonWalker struct {
	changes []Change
	seen    map[[2]*jsonschema.Schema]bool
}

func (w *jsonWalker) add(kind Kind, path string, breaks Direction, format string, args ...interface{}) {
	w.changes = append(w.changes, Change{
		Kind:   kind,
		Path:   path,
		Detail: fmt.Sprintf(format, args...),
		Breaks: breaks,
	})
}

func (w *jsonWalker) walk(path string, prior, cand *jsonschema.Schema) {
	key := [2]*jsonschema.Schema{prior, cand}
	if w.seen[key] {
		return
	}
	w.seen[key] = true

	p, c := flattenJSON(prior), flattenJSON(cand)

	w.compareTypes(path, p.types, c.types)
	w.compareEnum(path, p.enum, c.enum)

	for _, name := range sortedKeys(p.required) {
		if c.required[name] {
			continue
		}

		if hasJSONDefault(p.properties[name]) {
			continue
		}

		w.add(KindRequiredFieldRemoved, joinPath(path, name), Backward|Forward,
			`[%s] is no longer required and the prior definition has no default for it`, name)
	}

	for _, name := range sortedKeys(c.required) {
		if p.required[name] {
			continue
		}

		if hasJSONDefault(c.properties[name]) {
			continue
		}

		w.add(KindRequiredFieldAdded, joinPath(path, name), Backward,
			`[%s] became required without a default`, name)
	}

	if !p.closed && c.closed {
		w.add(KindAdditionalClosed, path, Backward,
			`additional properties are no longer allowed`)
	}

	for _, name := range sortedSchemaKeys(p.properties) {
		cp, ok := c.properties[name]
		if !ok {
			if c.closed {
				w.add(KindFieldRemovedFromClosed, joinPath(path, name), Backward,
					`[%s] was removed and additional properties are not allowed`, name)
			}
			continue
		}

		w.walk(joinPath(path, name), p.properties[name], cp)
	}

	for _, name := range sortedSchemaKeys(c.properties) {
		if _, ok := p.properties[name]; ok {
			continue
		}

		if p.closed {
			w.add(KindFieldAddedToClosed, joinPath(path, name), Forward,
				`[%s] was added but the prior definition does not allow additional properties`, name)
		}
	}

	if p.items != nil && c.items != nil {
		w.walk(path+`[]`, p.items, c.items)
	}
}

func (w *jsonWalker) compareTypes(path string, prior, cand []string) {
	var breaks Direction
	if !jsonTypesAccept(cand, prior) {
		breaks |= Backward
	}
	if !jsonTypesAccept(prior, cand) {
		breaks |= Forward
	}

	if breaks == 0 {
		return
	}

	w.add(KindTypeChanged, path, breaks, `type changed from [%s] to [%s]`,
		jsonTypesString(prior), jsonTypesString(cand))
}

func (w *jsonWalker) compareEnum(path string, prior, cand []interface{}) {
	if prior == nil && cand == nil {
		return
	}

	if prior == nil {
		w.add(KindEnumValueRemoved, path, Backward, `value set restricted to %v`, cand)
		return
	}

	if cand == nil {
		w.add(KindEnumValueAdded, path, Forward, `value restriction %v dropped`, prior)
		return
	}

	pv, cv := enumSet(prior), enumSet(cand)
	for _, v := range sortedKeys(pv) {
		if !cv[v] {
			w.add(KindEnumValueRemoved, path, Backward, `value [%s] removed`, v)
		}
	}
	for _, v := range sortedKeys(cv) {
		if !pv[v] {
			w.add(KindEnumValueAdded, path, Forward, `value [%s] added`, v)
		}
	}
}

// jsonTypesAccept reports whether a reader constrained to reader types accepts
// every value of writer types. An empty set means any type.
func jsonTypesAccept(reader, writer []string) bool {
	if len(reader) == 0 {
		return true
	}

	if len(writer) == 0 {
		return false
	}

	accepts := make(map[string]bool, len(reader))
	for _, t := range reader {
		accepts[t] = true
	}

	for _, t := range writer {
		if accepts[t] {
			continue
		}

		if t == `integer` && accepts[`number`] {
			continue
		}

		return false
	}

	return true
}

func jsonTypesString(types []string) string {
	if len(types) == 0 {
		return `any`
	}

	return strings.Join(types, `,`)
}

func hasJSONDefault(s *jsonschema.Schema) bool {
	return s != nil && s.Default != nil
}

// enumSet keys values by their JSON encoding, so 1 and "1" stay distinct
func enumSet(values []interface{}) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[enumKey(v)] = true
	}

	return set
}

func enumKey(v interface{}) string {
	if n, ok := v.(json.Number); ok {
		// 1 and 1.0 are the same JSON number
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return n.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`%#v`, v)
	}

	return string(b)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func sortedSchemaKeys(m map[string]*jsonschema.Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
