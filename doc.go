/*
Package schemaregistry implements the core of a schema registry: a store of named, versioned schema
definitions, a registrar that assigns contiguous version numbers, and a per format compatibility engine
that decides whether a new definition may follow the existing ones.

# Features
  - JSON Schema, Protobuf (FileDescriptorSet), Avro and opaque bytes definitions
  - Compatibility modes none, backward, forward, full and their transitive (-all) variants
  - In-memory, bbolt and PostgreSQL stores (see package storage)
  - Per schema serialized registrations, schemas with different names never contend
  - Import of subjects from a Confluent compatible registry (Registry.Sync)

Compatibility semantics: https://docs.confluent.io/platform/current/schema-registry/fundamentals/schema-evolution.html

Avro: http://avro.apache.org/docs/current/

Protobuf: https://protobuf.dev/programming-guides/proto3/#updating

JSON Schema: https://json-schema.org/specification
*/

package schemaregistry
