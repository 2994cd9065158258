package schemaregistry

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/schemaregistry/v3/compatibility"
	"github.com/tryfix/schemaregistry/v3/storage"
)

type options struct {
	logger               log.Logger
	store                storage.Store
	defaultCompatibility CompatibilityMode
	lockShards           int
	registerer           prometheus.Registerer
	checker              *compatibility.Checker
	clock                func() time.Time
}

// Option is a type to host NewRegistry configurations
type Option func(*options)

// WithLogger returns a Configurations to create a NewRegistry with given PrefixedLogger
func WithLogger(logger log.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithStore sets the Schema Store backend. Defaults to an in-memory store.
func WithStore(store storage.Store) Option {
	return func(options *options) {
		options.store = store
	}
}

// WithDefaultCompatibility sets the mode used by CreateSchema when none is given. Defaults to backward.
func WithDefaultCompatibility(mode CompatibilityMode) Option {
	return func(options *options) {
		options.defaultCompatibility = mode
	}
}

// WithLockShards sets the number of mutexes schema names are spread over
func WithLockShards(shards int) Option {
	return func(options *options) {
		options.lockShards = shards
	}
}

// WithMetrics registers the registry collectors on reg
func WithMetrics(reg prometheus.Registerer) Option {
	return func(options *options) {
		options.registerer = reg
	}
}

// WithChecker replaces the compatibility checker, e.g. to plug in custom differs
func WithChecker(checker *compatibility.Checker) Option {
	return func(options *options) {
		options.checker = checker
	}
}

// WithClock overrides time.Now for the registry timestamps
func WithClock(clock func() time.Time) Option {
	return func(options *options) {
		options.clock = clock
	}
}

// Registry is the schema registry core. It is safe for concurrent use.
type Registry struct {
	store   storage.Store
	checker *compatibility.Checker
	locks   *nameLocks
	metrics *metrics
	options *options
	logger  log.Logger

	mu      sync.Mutex
	closed  bool
	syncs   sync.WaitGroup
	stopAll chan struct{}
}

// NewRegistry returns a Registry configured with the given options
func NewRegistry(opts ...Option) (*Registry, error) {
	options := new(options)
	for _, opt := range opts {
		opt(options)
	}

	if options.logger == nil {
		options.logger = log.NewNoopLogger()
	}

	if options.store == nil {
		options.store = storage.NewMemoryStore(0)
	}

	if options.defaultCompatibility == `` {
		options.defaultCompatibility = CompatibilityBackward
	}

	if !options.defaultCompatibility.Valid() {
		return nil, errors.New(fmt.Sprintf(`unknown default compatibility mode [%s]`, options.defaultCompatibility))
	}

	if options.checker == nil {
		options.checker = compatibility.NewChecker()
	}

	if options.clock == nil {
		options.clock = time.Now
	}

	m, err := newMetrics(options.registerer)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot register metrics`)
	}

	return &Registry{
		store:   options.store,
		checker: options.checker,
		locks:   newNameLocks(options.lockShards),
		metrics: m,
		options: options,
		logger:  options.logger.NewLog(log.Prefixed(`Registry`)),
		stopAll: make(chan struct{}),
	}, nil
}

func (r *Registry) now() time.Time {
	return r.options.clock().UTC()
}

// CreateSchema creates a schema. When opts.Definition is set it is stored as
// version 1 together with the schema, readers never observe the schema without
// it and nothing is created if the definition is invalid.
func (r *Registry) CreateSchema(ctx context.Context, name string, opts SchemaOptions) (*Schema, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if !opts.Format.Valid() {
		return nil, invalidArgument(name, `unknown data format [%s]`, opts.Format)
	}

	mode := opts.Compatibility
	if mode == `` {
		mode = r.options.defaultCompatibility
	}

	if !mode.Valid() {
		return nil, invalidArgument(name, `unknown compatibility mode [%s]`, mode)
	}

	now := r.now()
	rec := &storage.SchemaRecord{
		Name:          name,
		Format:        opts.Format,
		Compatibility: mode,
		Description:   opts.Description,
		Tags:          cloneTags(opts.Tags),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var initial []*storage.VersionRecord
	if opts.Definition != nil {
		if _, err := r.checker.Validate(opts.Format, opts.Definition); err != nil {
			r.metrics.registrations.WithLabelValues(string(opts.Format), resultInvalid).Inc()
			return nil, r.definitionError(name, err)
		}

		id, err := uuid.NewV7()
		if err != nil {
			return nil, errors.WithPrevious(err, `cannot generate version id`)
		}

		initial = append(initial, &storage.VersionRecord{
			ID:         id,
			SchemaName: name,
			Number:     1,
			Definition: append([]byte(nil), opts.Definition...),
			Format:     opts.Format,
			CreatedAt:  now,
		})
	}

	unlock := r.locks.lock(name)
	defer unlock()

	if err := r.store.CreateSchema(ctx, rec, initial...); err != nil {
		return nil, r.storeError(err, name, 0)
	}
	rec.LatestVersion = len(initial)

	r.metrics.schemas.WithLabelValues(`create`).Inc()
	r.logger.Info(fmt.Sprintf(`schema [%s] created (%s, %s)`, name, rec.Format, rec.Compatibility))

	for _, v := range initial {
		r.metrics.registrations.WithLabelValues(string(rec.Format), resultRegistered).Inc()
		r.logger.Info(fmt.Sprintf(`schema [%s] version [%d] registered with id [%s]`, name, v.Number, v.ID))
	}

	return schemaFromRecord(rec), nil
}

// GetSchema returns the metadata of the named schema
func (r *Registry) GetSchema(ctx context.Context, name string) (*Schema, error) {
	rec, err := r.store.GetSchema(ctx, name)
	if err != nil {
		return nil, r.storeError(err, name, 0)
	}

	return schemaFromRecord(rec), nil
}

// UpdateSchema replaces the mutable metadata of a schema. An update that
// changes nothing leaves the stored record, UpdatedAt included, untouched.
func (r *Registry) UpdateSchema(ctx context.Context, name string, upd SchemaUpdate) (*Schema, error) {
	if upd.Compatibility != nil && !upd.Compatibility.Valid() {
		return nil, invalidArgument(name, `unknown compatibility mode [%s]`, *upd.Compatibility)
	}

	unlock := r.locks.lock(name)
	defer unlock()

	rec, err := r.store.GetSchema(ctx, name)
	if err != nil {
		return nil, r.storeError(err, name, 0)
	}

	changed := false
	if upd.Description != nil && *upd.Description != rec.Description {
		rec.Description = *upd.Description
		changed = true
	}

	switch {
	case upd.ClearTags:
		if len(rec.Tags) > 0 {
			rec.Tags = nil
			changed = true
		}
	case upd.Tags != nil:
		if !equalTags(rec.Tags, upd.Tags) {
			rec.Tags = cloneTags(upd.Tags)
			changed = true
		}
	}

	if upd.Compatibility != nil && *upd.Compatibility != rec.Compatibility {
		rec.Compatibility = *upd.Compatibility
		changed = true
	}

	if !changed {
		return schemaFromRecord(rec), nil
	}

	rec.UpdatedAt = r.now()
	if err := r.store.UpdateSchema(ctx, rec); err != nil {
		return nil, r.storeError(err, name, 0)
	}

	r.metrics.schemas.WithLabelValues(`update`).Inc()
	r.logger.Debug(fmt.Sprintf(`schema [%s] updated`, name))

	return schemaFromRecord(rec), nil
}

// DeleteSchema removes a schema with all of its versions. The name can be
// created again afterwards, numbering restarts at 1.
func (r *Registry) DeleteSchema(ctx context.Context, name string) error {
	unlock := r.locks.lock(name)
	defer unlock()

	if err := r.store.DeleteSchema(ctx, name); err != nil {
		return r.storeError(err, name, 0)
	}

	r.metrics.schemas.WithLabelValues(`delete`).Inc()
	r.logger.Info(fmt.Sprintf(`schema [%s] deleted`, name))

	return nil
}

// RegisterVersion appends definition as the next version of the named schema
// after checking it against the schema's compatibility mode
func (r *Registry) RegisterVersion(ctx context.Context, name string, definition []byte) (*RegisterResult, error) {
	unlock := r.locks.lock(name)
	defer unlock()

	return r.register(ctx, name, definition)
}

// register must be called with the name lock held
func (r *Registry) register(ctx context.Context, name string, definition []byte) (*RegisterResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := r.store.GetSchema(ctx, name)
		if err != nil {
			return nil, r.storeError(err, name, 0)
		}

		if _, err := r.check(ctx, rec, definition, true); err != nil {
			return nil, err
		}

		id, err := uuid.NewV7()
		if err != nil {
			return nil, errors.WithPrevious(err, `cannot generate version id`)
		}

		v := &storage.VersionRecord{
			ID:         id,
			SchemaName: name,
			Number:     rec.LatestVersion + 1,
			Definition: append([]byte(nil), definition...),
			Format:     rec.Format,
			CreatedAt:  r.now(),
		}

		// last point a caller can abandon the registration
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err = r.store.AppendVersion(ctx, v)
		if stderrors.Is(err, storage.ErrVersionConflict) {
			r.logger.Debug(fmt.Sprintf(`version [%d] of schema [%s] was taken concurrently, retrying`, v.Number, name))
			continue
		}
		if err != nil {
			return nil, r.storeError(err, name, v.Number)
		}

		r.metrics.registrations.WithLabelValues(string(rec.Format), resultRegistered).Inc()
		r.logger.Info(fmt.Sprintf(`schema [%s] version [%d] registered with id [%s]`, name, v.Number, v.ID))

		return &RegisterResult{VersionID: v.ID, VersionNumber: v.Number}, nil
	}
}

// CheckCompatibility reports whether definition could be registered as the
// next version of the named schema. The store is not modified.
func (r *Registry) CheckCompatibility(ctx context.Context, name string, definition []byte) (*compatibility.Result, error) {
	rec, err := r.store.GetSchema(ctx, name)
	if err != nil {
		return nil, r.storeError(err, name, 0)
	}

	return r.check(ctx, rec, definition, false)
}

// check runs the compatibility engine for rec. With reject set an
// incompatible result is returned as an IncompatibleSchema error.
func (r *Registry) check(ctx context.Context, rec *storage.SchemaRecord, definition []byte, reject bool) (*compatibility.Result, error) {
	var priors []compatibility.Prior
	if rec.Compatibility != CompatibilityNone && rec.LatestVersion > 0 {
		versions, err := r.store.ListVersions(ctx, rec.Name)
		if err != nil {
			return nil, r.storeError(err, rec.Name, 0)
		}

		priors = make([]compatibility.Prior, 0, len(versions))
		for _, v := range versions {
			priors = append(priors, compatibility.Prior{Version: v.Number, Definition: v.Definition})
		}
	}

	start := time.Now()
	res, err := r.checker.Check(rec.Format, rec.Compatibility, definition, priors)
	r.metrics.checkDuration.WithLabelValues(string(rec.Format)).Observe(time.Since(start).Seconds())
	if err != nil {
		if reject {
			r.metrics.registrations.WithLabelValues(string(rec.Format), resultInvalid).Inc()
		}
		return nil, r.definitionError(rec.Name, err)
	}

	result := resultCompatible
	if !res.Compatible {
		result = resultIncompatible
	}
	r.metrics.checks.WithLabelValues(string(rec.Compatibility), result).Inc()

	if reject && !res.Compatible {
		r.metrics.registrations.WithLabelValues(string(rec.Format), resultIncompatible).Inc()
		r.logger.Warn(fmt.Sprintf(`schema [%s] rejected a definition with %d violation/s under [%s]`,
			rec.Name, len(res.Violations), rec.Compatibility))

		return nil, &Error{
			Kind:       KindIncompatibleSchema,
			Schema:     rec.Name,
			Version:    res.Violations[0].Version,
			Path:       res.Violations[0].Path,
			Violations: res.Violations,
		}
	}

	return &res, nil
}

// Close stops the running syncs and closes the store
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stopAll)
	r.mu.Unlock()

	r.syncs.Wait()

	if err := r.store.Close(); err != nil {
		return errors.WithPrevious(err, `cannot close store`)
	}

	return nil
}

func (r *Registry) definitionError(name string, err error) error {
	var defErr *compatibility.DefinitionError
	if stderrors.As(err, &defErr) {
		return &Error{Kind: KindInvalidDefinition, Schema: name, Version: defErr.Version, Err: defErr.Err}
	}

	return invalidArgument(name, `%s`, err)
}

func (r *Registry) storeError(err error, name string, version int) error {
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return notFound(name, version)
	case stderrors.Is(err, storage.ErrExists):
		return &Error{Kind: KindAlreadyExists, Schema: name}
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	}

	return errors.WithPrevious(err, fmt.Sprintf(`storage failure for schema [%s]`, name))
}

func validateName(name string) error {
	if strings.TrimSpace(name) == `` {
		return invalidArgument(name, `schema name is empty`)
	}

	return nil
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}

	c := make(map[string]string, len(tags))
	for k, v := range tags {
		c[k] = v
	}

	return c
}

func equalTags(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	return matchTags(a, b)
}
