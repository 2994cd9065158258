package schemaregistry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/riferrei/srclient"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"golang.org/x/sync/errgroup"
)

const (
	// SyncSubjectTag marks a schema imported from a remote registry subject
	SyncSubjectTag = `sync.subject`
	// SyncVersionTag holds the last imported remote version number
	SyncVersionTag = `sync.version`
)

const defaultSyncConcurrency = 4

// SyncOptions configures Registry.Sync
type SyncOptions struct {
	// Subjects to follow, all remote subjects when empty
	Subjects []string
	// Interval keeps polling the remote registry until the context is done. Zero runs a single pass.
	Interval time.Duration
	// Compatibility of the schemas created by the import, none when empty
	Compatibility CompatibilityMode
	// Concurrency is the number of subjects imported in parallel
	Concurrency int
}

type backgroundSync struct {
	remote   srclient.ISchemaRegistryClient
	registry *Registry
	options  SyncOptions
	logger   log.Logger
}

// Sync imports the versions of a Confluent compatible registry into the local
// store. Every remote version not imported yet is registered, in order, as the
// next local version of the schema named after the subject. It returns the
// number of versions imported by the first pass. With a positive
// opts.Interval the import keeps running in background until ctx is done or
// the registry is closed.
func (r *Registry) Sync(ctx context.Context, remote srclient.ISchemaRegistryClient, opts SyncOptions) (int, error) {
	if opts.Compatibility == `` {
		opts.Compatibility = CompatibilityNone
	}

	if !opts.Compatibility.Valid() {
		return 0, invalidArgument(``, `unknown compatibility mode [%s]`, opts.Compatibility)
	}

	if opts.Concurrency < 1 {
		opts.Concurrency = defaultSyncConcurrency
	}

	s := &backgroundSync{
		remote:   remote,
		registry: r,
		options:  opts,
		logger:   r.options.logger.NewLog(log.Prefixed(`BGSync`)),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, errors.New(`registry is closed`)
	}
	if opts.Interval > 0 {
		r.syncs.Add(1)
	}
	r.mu.Unlock()

	added, err := s.checkRegistryAndAdd(ctx)
	if err != nil {
		if opts.Interval > 0 {
			r.syncs.Done()
		}
		return added, err
	}

	if added > 0 {
		if err := r.Print(ctx, nil); err != nil {
			s.logger.Warn(fmt.Sprintf(`cannot print registry due to %s`, err))
		}
	}

	if opts.Interval > 0 {
		go s.run(ctx)
		s.logger.Debug(`New Schema check background routine started`)
	}

	return added, nil
}

func (s *backgroundSync) run(ctx context.Context) {
	defer s.registry.syncs.Done()

	ticker := time.NewTicker(s.options.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.registry.stopAll:
			return
		case <-ticker.C:
			if _, err := s.checkRegistryAndAdd(ctx); err != nil {
				s.logger.Error(fmt.Sprintf(`Error looking for new Schemas due to %s`, err))
			}
		}
	}
}

func (s *backgroundSync) checkRegistryAndAdd(ctx context.Context) (int, error) {
	s.logger.Debug(`Looking for new Schemas...`)
	var added int64
	defer func() {
		s.logger.Debug(fmt.Sprintf(`Looking for new Schemas completed, %d schema/s added`, atomic.LoadInt64(&added)))
	}()

	subjects := s.options.Subjects
	if len(subjects) == 0 {
		var err error
		subjects, err = s.remote.GetSubjects()
		if err != nil {
			return 0, errors.WithPrevious(err, `cannot fetch remote subjects`)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.options.Concurrency)

	for _, subject := range subjects {
		subject := subject
		g.Go(func() error {
			n, err := s.syncSubject(gctx, subject)
			atomic.AddInt64(&added, int64(n))
			if err != nil {
				// one broken subject must not stop the others
				s.logger.Error(fmt.Sprintf(`Error syncing subject [%s] due to %s`, subject, err))
			}
			return gctx.Err()
		})
	}

	err := g.Wait()

	return int(atomic.LoadInt64(&added)), err
}

// syncSubject imports the remote versions of subject newer than the last imported one
func (s *backgroundSync) syncSubject(ctx context.Context, subject string) (int, error) {
	versions, err := s.remote.GetSchemaVersions(subject)
	if err != nil {
		return 0, errors.WithPrevious(err, `cannot fetch schema versions`)
	}
	sort.Ints(versions)

	last, err := s.lastImported(ctx, subject)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, version := range versions {
		if version <= last {
			continue
		}

		if err := ctx.Err(); err != nil {
			return added, err
		}

		schema, err := s.remote.GetSchemaByVersion(subject, version)
		if err != nil {
			return added, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch version [%d]`, version))
		}

		if last < 0 {
			if err := s.create(ctx, subject, schema); err != nil {
				return added, err
			}
			last = 0
		}

		res, err := s.registry.RegisterVersion(ctx, subject, []byte(schema.Schema()))
		if err != nil {
			return added, err
		}

		tag := strconv.Itoa(version)
		if err := s.markImported(ctx, subject, tag); err != nil {
			return added, err
		}
		last = version
		added++

		s.registry.metrics.syncedVersions.WithLabelValues(subject).Inc()
		s.logger.Info(fmt.Sprintf(`New Schema registered. %s:%d as local version %d`, subject, version, res.VersionNumber))
	}

	return added, nil
}

// lastImported returns the last imported remote version of subject, -1 when
// the local schema does not exist yet
func (s *backgroundSync) lastImported(ctx context.Context, subject string) (int, error) {
	local, err := s.registry.GetSchema(ctx, subject)
	if IsNotFound(err) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}

	if local.Tags[SyncSubjectTag] != subject {
		return 0, invalidArgument(subject, `local schema exists and was not imported from the remote registry`)
	}

	last, err := strconv.Atoi(local.Tags[SyncVersionTag])
	if err != nil {
		return 0, invalidArgument(subject, `invalid %s tag [%s]`, SyncVersionTag, local.Tags[SyncVersionTag])
	}

	return last, nil
}

func (s *backgroundSync) create(ctx context.Context, subject string, schema *srclient.Schema) error {
	_, err := s.registry.CreateSchema(ctx, subject, SchemaOptions{
		Format:        formatOf(schema),
		Compatibility: s.options.Compatibility,
		Description:   fmt.Sprintf(`imported from remote subject %s`, subject),
		Tags: map[string]string{
			SyncSubjectTag: subject,
			SyncVersionTag: `0`,
		},
	})

	return err
}

func (s *backgroundSync) markImported(ctx context.Context, subject, version string) error {
	local, err := s.registry.GetSchema(ctx, subject)
	if err != nil {
		return err
	}

	tags := cloneTags(local.Tags)
	if tags == nil {
		tags = make(map[string]string)
	}
	tags[SyncVersionTag] = version
	_, err = s.registry.UpdateSchema(ctx, subject, SchemaUpdate{Tags: tags})

	return err
}

// formatOf maps the remote schema type. Remote protobuf schemas are .proto
// sources rather than descriptor sets, they are kept as opaque bytes.
func formatOf(schema *srclient.Schema) Format {
	t := schema.SchemaType()
	if t == nil {
		return FormatAvro
	}

	switch *t {
	case srclient.Json:
		return FormatJSON
	case srclient.Protobuf:
		return FormatBytes
	}

	return FormatAvro
}
