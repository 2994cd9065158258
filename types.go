package schemaregistry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tryfix/schemaregistry/v3/compatibility"
	"github.com/tryfix/schemaregistry/v3/storage"
)

// Format is the data format of a schema definition
type Format = compatibility.Format

// CompatibilityMode governs which changes a new version may make
type CompatibilityMode = compatibility.Mode

const (
	FormatJSON     = compatibility.FormatJSON
	FormatProtobuf = compatibility.FormatProtobuf
	FormatAvro     = compatibility.FormatAvro
	FormatBytes    = compatibility.FormatBytes
)

const (
	CompatibilityNone        = compatibility.ModeNone
	CompatibilityBackward    = compatibility.ModeBackward
	CompatibilityForward     = compatibility.ModeForward
	CompatibilityFull        = compatibility.ModeFull
	CompatibilityBackwardAll = compatibility.ModeBackwardAll
	CompatibilityForwardAll  = compatibility.ModeForwardAll
	CompatibilityFullAll     = compatibility.ModeFullAll
)

// Version is a schema version number or one of the version selectors
type Version int

const (
	//VersionLatest selects the latest version of a schema
	VersionLatest Version = -1
)

// String returns the version number or the selector name
func (v Version) String() string {
	if v == VersionLatest {
		return `Latest`
	}

	return fmt.Sprint(int(v))
}

// Schema holds the metadata of a registered schema
type Schema struct {
	Name          string            `json:"name"`
	Format        Format            `json:"format"`
	Compatibility CompatibilityMode `json:"compatibility"`
	Description   string            `json:"description"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	// LatestVersion is 0 until the first version is registered
	LatestVersion int `json:"latest_version"`
}

// SchemaVersion is an immutable version of a schema. Definition is nil when
// the version was listed without definitions.
type SchemaVersion struct {
	ID           uuid.UUID `json:"id"`
	SchemaName   string    `json:"schema_name"`
	Number       int       `json:"number"`
	Definition   []byte    `json:"definition,omitempty"`
	Format       Format    `json:"format"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisteredSchema is a schema joined with one of its versions
type RegisteredSchema struct {
	Schema
	Version SchemaVersion `json:"version"`
}

// RegisterResult identifies a newly registered version
type RegisterResult struct {
	VersionID     uuid.UUID
	VersionNumber int
}

// SchemaOptions configures CreateSchema
type SchemaOptions struct {
	Format Format
	// Compatibility defaults to the registry default (WithDefaultCompatibility)
	Compatibility CompatibilityMode
	Description   string
	Tags          map[string]string
	// Definition, when set, is registered as version 1
	Definition []byte
}

// SchemaUpdate holds the metadata to replace on UpdateSchema. Nil fields are left untouched.
type SchemaUpdate struct {
	Description   *string
	Tags          map[string]string
	Compatibility *CompatibilityMode
	// ClearTags removes all tags, Tags is ignored when set
	ClearTags bool
}

// ListOptions filters ListSchemas
type ListOptions struct {
	Prefix string
	// Tags must all be present with equal values
	Tags map[string]string
}

// RegisteredOptions filters ListRegisteredSchemas
type RegisteredOptions struct {
	Prefix string
	Tags   map[string]string
	// VersionID restricts the result to the schema owning this version
	VersionID uuid.UUID
}

func (o ListOptions) match(s *storage.SchemaRecord) bool {
	return matchTags(s.Tags, o.Tags)
}

func matchTags(have, want map[string]string) bool {
	for k, v := range want {
		if hv, ok := have[k]; !ok || hv != v {
			return false
		}
	}

	return true
}

func schemaFromRecord(r *storage.SchemaRecord) *Schema {
	return &Schema{
		Name:          r.Name,
		Format:        r.Format,
		Compatibility: r.Compatibility,
		Description:   r.Description,
		Tags:          r.Tags,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LatestVersion: r.LatestVersion,
	}
}

func versionFromRecord(r *storage.VersionRecord, withDefinition bool) *SchemaVersion {
	v := &SchemaVersion{
		ID:           r.ID,
		SchemaName:   r.SchemaName,
		Number:       r.Number,
		Format:       r.Format,
		RegisteredAt: r.CreatedAt,
	}

	if withDefinition {
		v.Definition = r.Definition
	}

	return v
}
