package schemaregistry

import (
	"context"
	"fmt"

	"github.com/tryfix/log"
)

func Example_json() {
	ctx := context.Background()

	// Init a new in-memory schema registry
	registry, err := NewRegistry(WithLogger(log.NewNoopLogger()))
	if err != nil {
		log.Fatal(err)
	}
	defer registry.Close()

	if _, err := registry.CreateSchema(ctx, `order`, SchemaOptions{
		Format:        FormatJSON,
		Compatibility: CompatibilityBackward,
		Definition:    []byte(`{"type":"object","required":["orderId","amount"]}`),
	}); err != nil {
		log.Fatal(err)
	}

	// Adding an optional field is backward compatible
	res, err := registry.RegisterVersion(ctx, `order`, []byte(`{
		"type": "object",
		"required": ["orderId", "amount"],
		"properties": {"status": {"type": "string"}}
	}`))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(`registered version`, res.VersionNumber)

	// Dropping a required field is not
	_, err = registry.RegisterVersion(ctx, `order`, []byte(`{"type":"object","required":["orderId"]}`))
	if IsIncompatible(err) {
		for _, v := range err.(*Error).Violations {
			fmt.Println(v)
		}
	}

	// Output:
	// registered version 2
	// v2: required field removed at [amount]: [amount] is no longer required and the prior definition has no default for it
}

func Example_avro() {
	ctx := context.Background()

	registry, err := NewRegistry()
	if err != nil {
		log.Fatal(err)
	}
	defer registry.Close()

	if _, err := registry.CreateSchema(ctx, `test-subject-avro`, SchemaOptions{
		Format:        FormatAvro,
		Compatibility: CompatibilityFullAll,
		Definition:    []byte(`{"type":"record","name":"SampleRecord","fields":[{"name":"field1","type":"int"}]}`),
	}); err != nil {
		log.Fatal(err)
	}

	res, err := registry.CheckCompatibility(ctx, `test-subject-avro`,
		[]byte(`{"type":"record","name":"SampleRecord","fields":[{"name":"field1","type":"int"},{"name":"field2","type":"string","default":""}]}`))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(`compatible:`, res.Compatible)

	// Output:
	// compatible: true
}
