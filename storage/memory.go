package storage

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

const defaultMemoryShards = 32

type memorySchema struct {
	record   *SchemaRecord
	versions map[int]*VersionRecord
}

type memoryShard struct {
	mu      sync.RWMutex
	schemas map[string]*memorySchema
}

// MemoryStore keeps schemas in process memory, partitioned into shards by the
// hash of the schema name. Version ids are indexed separately.
type MemoryStore struct {
	shards []*memoryShard

	idMu sync.RWMutex
	ids  map[uuid.UUID]string
}

// NewMemoryStore creates an empty in-memory store. A shard count below one
// falls back to the default.
func NewMemoryStore(shards int) *MemoryStore {
	if shards < 1 {
		shards = defaultMemoryShards
	}

	s := &MemoryStore{
		shards: make([]*memoryShard, shards),
		ids:    make(map[uuid.UUID]string),
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{schemas: make(map[string]*memorySchema)}
	}

	return s
}

func (s *MemoryStore) shard(name string) *memoryShard {
	return s.shards[xxhash.Sum64String(name)%uint64(len(s.shards))]
}

func (s *MemoryStore) CreateSchema(ctx context.Context, rec *SchemaRecord, initial ...*VersionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := checkInitial(rec.Name, initial); err != nil {
		return err
	}

	sh := s.shard(rec.Name)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.schemas[rec.Name]; ok {
		return ErrExists
	}

	sc := &memorySchema{
		record:   rec.Clone(),
		versions: make(map[int]*VersionRecord, len(initial)),
	}

	s.idMu.Lock()
	for _, v := range initial {
		if _, ok := s.ids[v.ID]; ok {
			s.idMu.Unlock()
			return ErrExists
		}
	}
	for _, v := range initial {
		s.ids[v.ID] = rec.Name
		sc.versions[v.Number] = v.Clone()
	}
	s.idMu.Unlock()

	sc.record.LatestVersion = len(initial)
	sh.schemas[rec.Name] = sc

	return nil
}

func (s *MemoryStore) GetSchema(ctx context.Context, name string) (*SchemaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sc, ok := sh.schemas[name]
	if !ok {
		return nil, ErrNotFound
	}

	return sc.record.Clone(), nil
}

func (s *MemoryStore) UpdateSchema(ctx context.Context, rec *SchemaRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shard(rec.Name)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sc, ok := sh.schemas[rec.Name]
	if !ok {
		return ErrNotFound
	}

	sc.record.Description = rec.Description
	sc.record.Tags = cloneTags(rec.Tags)
	sc.record.Compatibility = rec.Compatibility
	sc.record.UpdatedAt = rec.UpdatedAt

	return nil
}

func (s *MemoryStore) DeleteSchema(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shard(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sc, ok := sh.schemas[name]
	if !ok {
		return ErrNotFound
	}

	s.idMu.Lock()
	for _, v := range sc.versions {
		delete(s.ids, v.ID)
	}
	s.idMu.Unlock()

	delete(sh.schemas, name)

	return nil
}

func (s *MemoryStore) ListSchemas(ctx context.Context, prefix string) ([]*SchemaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []*SchemaRecord
	for _, sh := range s.shards {
		sh.mu.RLock()
		for name, sc := range sh.schemas {
			if hasPrefix(name, prefix) {
				recs = append(recs, sc.record.Clone())
			}
		}
		sh.mu.RUnlock()
	}

	sortSchemas(recs)

	return recs, nil
}

func (s *MemoryStore) AppendVersion(ctx context.Context, rec *VersionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shard(rec.SchemaName)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sc, ok := sh.schemas[rec.SchemaName]
	if !ok {
		return ErrNotFound
	}

	if rec.Number != sc.record.LatestVersion+1 {
		return ErrVersionConflict
	}

	s.idMu.Lock()
	if _, ok := s.ids[rec.ID]; ok {
		s.idMu.Unlock()
		return ErrExists
	}
	s.ids[rec.ID] = rec.SchemaName
	s.idMu.Unlock()

	sc.versions[rec.Number] = rec.Clone()
	sc.record.LatestVersion = rec.Number

	return nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, name string, number int) (*VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sc, ok := sh.schemas[name]
	if !ok {
		return nil, ErrNotFound
	}

	v, ok := sc.versions[number]
	if !ok {
		return nil, ErrNotFound
	}

	return v.Clone(), nil
}

func (s *MemoryStore) GetVersionByID(ctx context.Context, id uuid.UUID) (*VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.idMu.RLock()
	name, ok := s.ids[id]
	s.idMu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	sh := s.shard(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sc, ok := sh.schemas[name]
	if !ok {
		return nil, ErrNotFound
	}

	for _, v := range sc.versions {
		if v.ID == id {
			return v.Clone(), nil
		}
	}

	return nil, ErrNotFound
}

func (s *MemoryStore) ListVersions(ctx context.Context, name string) ([]*VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sc, ok := sh.schemas[name]
	if !ok {
		return nil, ErrNotFound
	}

	recs := make([]*VersionRecord, 0, len(sc.versions))
	for _, v := range sc.versions {
		recs = append(recs, v.Clone())
	}
	sortVersions(recs)

	return recs, nil
}

func (s *MemoryStore) DeleteVersions(ctx context.Context, name string, numbers []int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shard(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sc, ok := sh.schemas[name]
	if !ok {
		return ErrNotFound
	}

	for _, n := range numbers {
		if _, ok := sc.versions[n]; !ok {
			return ErrNotFound
		}
	}

	s.idMu.Lock()
	defer s.idMu.Unlock()

	for _, n := range numbers {
		if v, ok := sc.versions[n]; ok {
			delete(s.ids, v.ID)
			delete(sc.versions, n)
		}
	}

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
