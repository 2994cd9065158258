package schemaregistry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// GetSchemaVersion returns a version of the named schema with its definition.
// VersionLatest selects the most recent one.
func (r *Registry) GetSchemaVersion(ctx context.Context, name string, version Version) (*SchemaVersion, error) {
	number := int(version)
	if version == VersionLatest {
		rec, err := r.store.GetSchema(ctx, name)
		if err != nil {
			return nil, r.storeError(err, name, 0)
		}

		if rec.LatestVersion == 0 {
			return nil, notFound(name, 0)
		}
		number = rec.LatestVersion
	}

	if number < 1 {
		return nil, invalidArgument(name, `invalid version [%s]`, version)
	}

	v, err := r.store.GetVersion(ctx, name, number)
	if err != nil {
		return nil, r.storeError(err, name, number)
	}

	return versionFromRecord(v, true), nil
}

// GetSchemaVersionByID returns the version with the given id and its definition
func (r *Registry) GetSchemaVersionByID(ctx context.Context, id uuid.UUID) (*SchemaVersion, error) {
	v, err := r.store.GetVersionByID(ctx, id)
	if err != nil {
		err = r.storeError(err, ``, 0)
		if e, ok := err.(*Error); ok {
			e.VersionID = id
		}
		return nil, err
	}

	return versionFromRecord(v, true), nil
}

// LookupSchemaName returns the name of the schema owning the version id
func (r *Registry) LookupSchemaName(ctx context.Context, id uuid.UUID) (string, error) {
	v, err := r.GetSchemaVersionByID(ctx, id)
	if err != nil {
		return ``, err
	}

	return v.SchemaName, nil
}

// ListSchemas returns the schemas matching opts ordered by name
func (r *Registry) ListSchemas(ctx context.Context, opts ListOptions) ([]*Schema, error) {
	recs, err := r.store.ListSchemas(ctx, opts.Prefix)
	if err != nil {
		return nil, r.storeError(err, ``, 0)
	}

	schemas := make([]*Schema, 0, len(recs))
	for _, rec := range recs {
		if opts.match(rec) {
			schemas = append(schemas, schemaFromRecord(rec))
		}
	}

	return schemas, nil
}

// ListSchemaVersions returns the versions of a schema in ascending order.
// Definitions are only loaded into the result when withDefinitions is set.
func (r *Registry) ListSchemaVersions(ctx context.Context, name string, withDefinitions bool) ([]*SchemaVersion, error) {
	recs, err := r.store.ListVersions(ctx, name)
	if err != nil {
		return nil, r.storeError(err, name, 0)
	}

	versions := make([]*SchemaVersion, 0, len(recs))
	for _, rec := range recs {
		versions = append(versions, versionFromRecord(rec, withDefinitions))
	}

	return versions, nil
}

// ListRegisteredSchemas returns the matching schemas with their latest
// version inlined. Schemas without versions are left out. When opts.VersionID
// is set only the owning schema is returned, joined with that version.
func (r *Registry) ListRegisteredSchemas(ctx context.Context, opts RegisteredOptions) ([]*RegisteredSchema, error) {
	if opts.VersionID != uuid.Nil {
		return r.registeredByID(ctx, opts)
	}

	recs, err := r.store.ListSchemas(ctx, opts.Prefix)
	if err != nil {
		return nil, r.storeError(err, ``, 0)
	}

	out := make([]*RegisteredSchema, 0, len(recs))
	for _, rec := range recs {
		if rec.LatestVersion == 0 || !matchTags(rec.Tags, opts.Tags) {
			continue
		}

		v, err := r.store.GetVersion(ctx, rec.Name, rec.LatestVersion)
		if err != nil {
			// deleted concurrently
			if IsNotFound(r.storeError(err, rec.Name, rec.LatestVersion)) {
				continue
			}
			return nil, r.storeError(err, rec.Name, rec.LatestVersion)
		}

		out = append(out, &RegisteredSchema{
			Schema:  *schemaFromRecord(rec),
			Version: *versionFromRecord(v, true),
		})
	}

	return out, nil
}

func (r *Registry) registeredByID(ctx context.Context, opts RegisteredOptions) ([]*RegisteredSchema, error) {
	v, err := r.store.GetVersionByID(ctx, opts.VersionID)
	if err != nil {
		if IsNotFound(r.storeError(err, ``, 0)) {
			return []*RegisteredSchema{}, nil
		}
		return nil, r.storeError(err, ``, 0)
	}

	rec, err := r.store.GetSchema(ctx, v.SchemaName)
	if err != nil {
		if IsNotFound(r.storeError(err, v.SchemaName, 0)) {
			return []*RegisteredSchema{}, nil
		}
		return nil, r.storeError(err, v.SchemaName, 0)
	}

	if !strings.HasPrefix(rec.Name, opts.Prefix) || !matchTags(rec.Tags, opts.Tags) {
		return []*RegisteredSchema{}, nil
	}

	return []*RegisteredSchema{{
		Schema:  *schemaFromRecord(rec),
		Version: *versionFromRecord(v, true),
	}}, nil
}

// DeleteSchemaVersions removes the given versions of a schema. The latest
// version cannot be deleted, so version numbers are never reused.
func (r *Registry) DeleteSchemaVersions(ctx context.Context, name string, numbers []int) error {
	if len(numbers) == 0 {
		return invalidArgument(name, `no versions given`)
	}

	unlock := r.locks.lock(name)
	defer unlock()

	rec, err := r.store.GetSchema(ctx, name)
	if err != nil {
		return r.storeError(err, name, 0)
	}

	for _, n := range numbers {
		if n == rec.LatestVersion {
			e := invalidArgument(name, `the latest version cannot be deleted`)
			e.Version = n
			return e
		}

		if _, err := r.store.GetVersion(ctx, name, n); err != nil {
			return r.storeError(err, name, n)
		}
	}

	if err := r.store.DeleteVersions(ctx, name, numbers); err != nil {
		return r.storeError(err, name, 0)
	}

	r.logger.Info(fmt.Sprintf(`schema [%s] versions %v deleted`, name, numbers))

	return nil
}

// Print renders the registered schemas as a table to w. When w is nil the
// table is written to the registry logger.
func (r *Registry) Print(ctx context.Context, w io.Writer) error {
	recs, err := r.store.ListSchemas(ctx, ``)
	if err != nil {
		return r.storeError(err, ``, 0)
	}

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`schema`, `format`, `compatibility`, `version`, `version id`, `tags`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.SetAutoFormatHeaders(true)

	for _, rec := range recs {
		versions, err := r.store.ListVersions(ctx, rec.Name)
		if err != nil {
			if IsNotFound(r.storeError(err, rec.Name, 0)) {
				continue
			}
			return r.storeError(err, rec.Name, 0)
		}

		if len(versions) == 0 {
			table.Append([]string{rec.Name, string(rec.Format), string(rec.Compatibility), `-`, `-`, formatTags(rec.Tags)})
			continue
		}

		for _, v := range versions {
			table.Append([]string{
				rec.Name,
				string(v.Format),
				string(rec.Compatibility),
				fmt.Sprint(v.Number),
				v.ID.String(),
				formatTags(rec.Tags),
			})
		}
	}
	table.Render()

	if w == nil {
		r.logger.Info(fmt.Sprintf("schemas\n%s", b.String()))
		return nil
	}

	_, err = w.Write(b.Bytes())

	return err
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ``
	}

	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+`=`+v)
	}
	sort.Strings(pairs)

	return strings.Join(pairs, `,`)
}
