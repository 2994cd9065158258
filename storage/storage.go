// Package storage holds the Schema Store backends of the registry.
//
// Every backend hands out copies of its records, so a caller can neither
// observe a half written version nor mutate stored state through a returned
// pointer. Appends are version checked: AppendVersion only succeeds when the
// record number directly follows the latest stored number.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tryfix/schemaregistry/v3/compatibility"
)

var (
	ErrNotFound = errors.New(`not found`)
	ErrExists   = errors.New(`already exists`)
	// ErrVersionConflict is returned by AppendVersion when the record number is
	// not the successor of the latest stored version
	ErrVersionConflict = errors.New(`version number conflict`)
)

// SchemaRecord is the stored metadata of a schema
type SchemaRecord struct {
	Name          string               `json:"name"`
	Format        compatibility.Format `json:"format"`
	Compatibility compatibility.Mode   `json:"compatibility"`
	Description   string               `json:"description"`
	Tags          map[string]string    `json:"tags,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	// LatestVersion is the highest version number ever assigned, 0 when none
	LatestVersion int `json:"latest_version"`
}

// Clone returns a deep copy of r
func (r *SchemaRecord) Clone() *SchemaRecord {
	if r == nil {
		return nil
	}

	c := *r
	c.Tags = cloneTags(r.Tags)

	return &c
}

// VersionRecord is a stored, immutable schema version
type VersionRecord struct {
	ID         uuid.UUID            `json:"id"`
	SchemaName string               `json:"schema_name"`
	Number     int                  `json:"number"`
	Definition []byte               `json:"definition"`
	Format     compatibility.Format `json:"format"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Clone returns a deep copy of r
func (r *VersionRecord) Clone() *VersionRecord {
	if r == nil {
		return nil
	}

	c := *r
	c.Definition = append([]byte(nil), r.Definition...)

	return &c
}

// Store is the Schema Store contract shared by all backends
type Store interface {
	// CreateSchema fails with ErrExists when the name is taken. Initial
	// versions, numbered from 1, are stored in the same step and
	// rec.LatestVersion is set from them; no reader sees the schema without them.
	CreateSchema(ctx context.Context, rec *SchemaRecord, initial ...*VersionRecord) error
	GetSchema(ctx context.Context, name string) (*SchemaRecord, error)
	// UpdateSchema replaces description, tags, compatibility and UpdatedAt only
	UpdateSchema(ctx context.Context, rec *SchemaRecord) error
	// DeleteSchema removes the schema and all of its versions
	DeleteSchema(ctx context.Context, name string) error
	// ListSchemas returns schemas whose name starts with prefix, sorted by name
	ListSchemas(ctx context.Context, prefix string) ([]*SchemaRecord, error)

	// AppendVersion stores rec and advances the schema's latest version. It
	// fails with ErrVersionConflict unless rec.Number == latest+1.
	AppendVersion(ctx context.Context, rec *VersionRecord) error
	GetVersion(ctx context.Context, name string, number int) (*VersionRecord, error)
	GetVersionByID(ctx context.Context, id uuid.UUID) (*VersionRecord, error)
	// ListVersions returns the versions of a schema in ascending number order
	ListVersions(ctx context.Context, name string) ([]*VersionRecord, error)
	// DeleteVersions removes the given version numbers. Unknown numbers are
	// reported with ErrNotFound and nothing is deleted.
	DeleteVersions(ctx context.Context, name string, numbers []int) error

	Close() error
}

func cloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}

	c := make(map[string]string, len(tags))
	for k, v := range tags {
		c[k] = v
	}

	return c
}

// checkInitial verifies that initial versions belong to name and are numbered 1..n
func checkInitial(name string, initial []*VersionRecord) error {
	for i, v := range initial {
		if v.SchemaName != name || v.Number != i+1 {
			return ErrVersionConflict
		}
	}

	return nil
}

func hasPrefix(name, prefix string) bool {
	return prefix == `` || strings.HasPrefix(name, prefix)
}

func sortSchemas(recs []*SchemaRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
}

func sortVersions(recs []*VersionRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Number < recs[j].Number })
}
