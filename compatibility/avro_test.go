package compatibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func avroDiff(t *testing.T, prior, cand string) []Change {
	t.Helper()

	d := NewAvroDiffer()
	p, err := d.Parse([]byte(prior))
	require.NoError(t, err)
	c, err := d.Parse([]byte(cand))
	require.NoError(t, err)

	return d.Diff(p, c)
}

const avroOrderV1 = `{
	"type": "record",
	"name": "Order",
	"namespace": "com.shop",
	"fields": [
		{"name": "orderId", "type": "string"},
		{"name": "amount", "type": "int"},
		{"name": "state", "type": {"type": "enum", "name": "State", "symbols": ["NEW", "PAID"]}}
	]
}`

func TestAvroDiffer_Identical(t *testing.T) {
	assert.Empty(t, avroDiff(t, avroOrderV1, avroOrderV1))
}

func TestAvroDiffer_AddField(t *testing.T) {
	withDefault := `{"type":"record","name":"Order","namespace":"com.shop","fields":[
		{"name":"orderId","type":"string"},
		{"name":"amount","type":"int"},
		{"name":"state","type":{"type":"enum","name":"State","symbols":["NEW","PAID"]}},
		{"name":"note","type":["null","string"],"default":null}]}`
	assert.Empty(t, avroDiff(t, avroOrderV1, withDefault))

	withoutDefault := `{"type":"record","name":"Order","namespace":"com.shop","fields":[
		{"name":"orderId","type":"string"},
		{"name":"amount","type":"int"},
		{"name":"state","type":{"type":"enum","name":"State","symbols":["NEW","PAID"]}},
		{"name":"note","type":"string"}]}`
	changes := avroDiff(t, avroOrderV1, withoutDefault)
	require.Len(t, changes, 1)
	assert.Equal(t, KindRequiredFieldAdded, changes[0].Kind)
	assert.Equal(t, `note`, changes[0].Path)
	assert.Equal(t, Backward, changes[0].Breaks)
}

func TestAvroDiffer_RemoveField(t *testing.T) {
	cand := `{"type":"record","name":"Order","namespace":"com.shop","fields":[
		{"name":"orderId","type":"string"},
		{"name":"state","type":{"type":"enum","name":"State","symbols":["NEW","PAID"]}}]}`

	changes := avroDiff(t, avroOrderV1, cand)
	require.Len(t, changes, 1)
	assert.Equal(t, KindRequiredFieldRemoved, changes[0].Kind)
	assert.Equal(t, `amount`, changes[0].Path)
	assert.Equal(t, Backward|Forward, changes[0].Breaks)
}

func TestAvroDiffer_Promotion(t *testing.T) {
	cand := `{"type":"record","name":"Order","namespace":"com.shop","fields":[
		{"name":"orderId","type":"string"},
		{"name":"amount","type":"long"},
		{"name":"state","type":{"type":"enum","name":"State","symbols":["NEW","PAID"]}}]}`

	changes := avroDiff(t, avroOrderV1, cand)
	require.Len(t, changes, 1)
	assert.Equal(t, KindTypeChanged, changes[0].Kind)
	assert.Equal(t, `amount`, changes[0].Path)
	// long can read int but int cannot read long
	assert.Equal(t, Forward, changes[0].Breaks)
}

func TestAvroDiffer_Rename(t *testing.T) {
	aliased := `{"type":"record","name":"Order","namespace":"com.shop","fields":[
		{"name":"orderId","type":"string"},
		{"name":"total","type":"int","aliases":["amount"]},
		{"name":"state","type":{"type":"enum","name":"State","symbols":["NEW","PAID"]}}]}`
	assert.Empty(t, avroDiff(t, avroOrderV1, aliased))

	renamed := `{"type":"record","name":"Order","namespace":"com.shop","fields":[
		{"name":"orderId","type":"string"},
		{"name":"total","type":"int"},
		{"name":"state","type":{"type":"enum","name":"State","symbols":["NEW","PAID"]}}]}`
	changes := avroDiff(t, avroOrderV1, renamed)
	require.Len(t, changes, 1)
	assert.Equal(t, KindFieldRenamed, changes[0].Kind)
	assert.Equal(t, `amount`, changes[0].Path)
}

func TestAvroDiffer_EnumSymbols(t *testing.T) {
	cand := `{"type":"record","name":"Order","namespace":"com.shop","fields":[
		{"name":"orderId","type":"string"},
		{"name":"amount","type":"int"},
		{"name":"state","type":{"type":"enum","name":"State","symbols":["NEW","SHIPPED"]}}]}`

	changes := avroDiff(t, avroOrderV1, cand)
	require.Len(t, changes, 2)
	assert.Equal(t, KindEnumValueRemoved, changes[0].Kind)
	assert.Equal(t, `state`, changes[0].Path)
	assert.Equal(t, Backward, changes[0].Breaks)
	assert.Equal(t, KindEnumValueAdded, changes[1].Kind)
	assert.Equal(t, Forward, changes[1].Breaks)
}

func TestAvroDiffer_NestedPaths(t *testing.T) {
	prior := `{"type":"record","name":"Cart","fields":[
		{"name":"items","type":{"type":"array","items":{"type":"record","name":"Item","fields":[{"name":"sku","type":"string"}]}}}]}`
	cand := `{"type":"record","name":"Cart","fields":[
		{"name":"items","type":{"type":"array","items":{"type":"record","name":"Item","fields":[{"name":"sku","type":"int"}]}}}]}`

	changes := avroDiff(t, prior, cand)
	require.Len(t, changes, 1)
	assert.Equal(t, `items[].sku`, changes[0].Path)
	assert.Equal(t, Backward|Forward, changes[0].Breaks)
}

func TestAvroDiffer_Unions(t *testing.T) {
	prior := `{"type":"record","name":"A","fields":[{"name":"v","type":["null","string","int"]}]}`
	cand := `{"type":"record","name":"A","fields":[{"name":"v","type":["null","string"]}]}`

	changes := avroDiff(t, prior, cand)
	require.Len(t, changes, 1)
	assert.Equal(t, KindUnionBranchRemoved, changes[0].Kind)
	assert.Equal(t, `v`, changes[0].Path)
	assert.Equal(t, Backward, changes[0].Breaks)

	// the reverse adds a branch the prior cannot read
	changes = avroDiff(t, cand, prior)
	require.Len(t, changes, 1)
	assert.Equal(t, Forward, changes[0].Breaks)
}

func TestAvroDiffer_FixedSize(t *testing.T) {
	changes := avroDiff(t, `{"type":"fixed","name":"Hash","size":16}`, `{"type":"fixed","name":"Hash","size":32}`)
	require.Len(t, changes, 1)
	assert.Equal(t, KindFixedSizeChanged, changes[0].Kind)
}

func TestAvroDiffer_RecursiveRecord(t *testing.T) {
	node := `{"type":"record","name":"Node","fields":[{"name":"value","type":"int"},{"name":"next","type":["null","Node"],"default":null}]}`
	assert.Empty(t, avroDiff(t, node, node))
}

func TestAvroDiffer_Invalid(t *testing.T) {
	_, err := NewAvroDiffer().Parse([]byte(`{"type":"record","name":"A","fields":[{"name":"a","type":"nope"}]}`))
	assert.Error(t, err)
}
