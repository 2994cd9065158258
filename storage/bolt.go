package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tryfix/errors"
	bolt "go.etcd.io/bbolt"
)

var _ Store = (*BoltStore)(nil)

var (
	boltSchemasBucket  = []byte(`schemas`)
	boltVersionsBucket = []byte(`versions`)
	boltIDsBucket      = []byte(`version_ids`)
)

// BoltStore persists schemas in a single bbolt file. Versions of a schema live
// in a nested bucket keyed by the big endian version number.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the store file at path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		// open timeout when file is locked
		Timeout:      time.Second,
		FreelistType: bolt.FreelistMapType,
	})
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot open bolt store`)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{boltSchemasBucket, boltVersionsBucket, boltIDsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithPrevious(err, `cannot initialize bolt buckets`)
	}

	return &BoltStore{db: db}, nil
}

func versionKey(number int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(number))
	return k
}

func idValue(name string, number int) []byte {
	return append(versionKey(number), name...)
}

func getSchemaRecord(tx *bolt.Tx, name string) (*SchemaRecord, error) {
	raw := tx.Bucket(boltSchemasBucket).Get([]byte(name))
	if raw == nil {
		return nil, ErrNotFound
	}

	rec := new(SchemaRecord)
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, errors.WithPrevious(err, `cannot decode schema record`)
	}

	return rec, nil
}

func putSchemaRecord(tx *bolt.Tx, rec *SchemaRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return tx.Bucket(boltSchemasBucket).Put([]byte(rec.Name), raw)
}

func decodeVersion(raw []byte) (*VersionRecord, error) {
	rec := new(VersionRecord)
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, errors.WithPrevious(err, `cannot decode version record`)
	}

	return rec, nil
}

func (s *BoltStore) CreateSchema(ctx context.Context, rec *SchemaRecord, initial ...*VersionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := checkInitial(rec.Name, initial); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(boltSchemasBucket).Get([]byte(rec.Name)) != nil {
			return ErrExists
		}

		vb, err := tx.Bucket(boltVersionsBucket).CreateBucketIfNotExists([]byte(rec.Name))
		if err != nil {
			return err
		}

		ids := tx.Bucket(boltIDsBucket)
		for _, v := range initial {
			if ids.Get(v.ID[:]) != nil {
				return ErrExists
			}

			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}

			if err := vb.Put(versionKey(v.Number), raw); err != nil {
				return err
			}

			if err := ids.Put(v.ID[:], idValue(rec.Name, v.Number)); err != nil {
				return err
			}
		}

		stored := rec.Clone()
		stored.LatestVersion = len(initial)

		return putSchemaRecord(tx, stored)
	})
}

func (s *BoltStore) GetSchema(ctx context.Context, name string) (rec *SchemaRecord, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		rec, err = getSchemaRecord(tx, name)
		return err
	})

	return rec, err
}

func (s *BoltStore) UpdateSchema(ctx context.Context, rec *SchemaRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		stored, err := getSchemaRecord(tx, rec.Name)
		if err != nil {
			return err
		}

		stored.Description = rec.Description
		stored.Tags = cloneTags(rec.Tags)
		stored.Compatibility = rec.Compatibility
		stored.UpdatedAt = rec.UpdatedAt

		return putSchemaRecord(tx, stored)
	})
}

func (s *BoltStore) DeleteSchema(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getSchemaRecord(tx, name); err != nil {
			return err
		}

		versions := tx.Bucket(boltVersionsBucket)
		if vb := versions.Bucket([]byte(name)); vb != nil {
			ids := tx.Bucket(boltIDsBucket)
			err := vb.ForEach(func(_, raw []byte) error {
				v, err := decodeVersion(raw)
				if err != nil {
					return err
				}
				return ids.Delete(v.ID[:])
			})
			if err != nil {
				return err
			}

			if err := versions.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}

		return tx.Bucket(boltSchemasBucket).Delete([]byte(name))
	})
}

func (s *BoltStore) ListSchemas(ctx context.Context, prefix string) ([]*SchemaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []*SchemaRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltSchemasBucket).Cursor()
		for k, raw := c.Seek([]byte(prefix)); k != nil && hasPrefix(string(k), prefix); k, raw = c.Next() {
			rec := new(SchemaRecord)
			if err := json.Unmarshal(raw, rec); err != nil {
				return errors.WithPrevious(err, `cannot decode schema record`)
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// keys are already ordered bytewise, which matches string ordering
	return recs, nil
}

func (s *BoltStore) AppendVersion(ctx context.Context, rec *VersionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		schema, err := getSchemaRecord(tx, rec.SchemaName)
		if err != nil {
			return err
		}

		if rec.Number != schema.LatestVersion+1 {
			return ErrVersionConflict
		}

		ids := tx.Bucket(boltIDsBucket)
		if ids.Get(rec.ID[:]) != nil {
			return ErrExists
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		vb, err := tx.Bucket(boltVersionsBucket).CreateBucketIfNotExists([]byte(rec.SchemaName))
		if err != nil {
			return err
		}

		if err := vb.Put(versionKey(rec.Number), raw); err != nil {
			return err
		}

		if err := ids.Put(rec.ID[:], idValue(rec.SchemaName, rec.Number)); err != nil {
			return err
		}

		schema.LatestVersion = rec.Number

		return putSchemaRecord(tx, schema)
	})
}

func (s *BoltStore) GetVersion(ctx context.Context, name string, number int) (rec *VersionRecord, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		rec, err = getVersion(tx, name, number)
		return err
	})

	return rec, err
}

func getVersion(tx *bolt.Tx, name string, number int) (*VersionRecord, error) {
	vb := tx.Bucket(boltVersionsBucket).Bucket([]byte(name))
	if vb == nil {
		return nil, ErrNotFound
	}

	raw := vb.Get(versionKey(number))
	if raw == nil {
		return nil, ErrNotFound
	}

	return decodeVersion(raw)
}

func (s *BoltStore) GetVersionByID(ctx context.Context, id uuid.UUID) (rec *VersionRecord, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		ref := tx.Bucket(boltIDsBucket).Get(id[:])
		if len(ref) < 8 {
			return ErrNotFound
		}

		number := int(binary.BigEndian.Uint64(ref[:8]))
		rec, err = getVersion(tx, string(ref[8:]), number)
		return err
	})

	return rec, err
}

func (s *BoltStore) ListVersions(ctx context.Context, name string) ([]*VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []*VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := getSchemaRecord(tx, name); err != nil {
			return err
		}

		vb := tx.Bucket(boltVersionsBucket).Bucket([]byte(name))
		if vb == nil {
			return nil
		}

		return vb.ForEach(func(_, raw []byte) error {
			v, err := decodeVersion(raw)
			if err != nil {
				return err
			}
			recs = append(recs, v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if recs == nil {
		recs = []*VersionRecord{}
	}

	return recs, nil
}

func (s *BoltStore) DeleteVersions(ctx context.Context, name string, numbers []int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getSchemaRecord(tx, name); err != nil {
			return err
		}

		vb := tx.Bucket(boltVersionsBucket).Bucket([]byte(name))
		if vb == nil {
			return ErrNotFound
		}

		var ids []uuid.UUID
		for _, n := range numbers {
			raw := vb.Get(versionKey(n))
			if raw == nil {
				return ErrNotFound
			}

			v, err := decodeVersion(raw)
			if err != nil {
				return err
			}
			ids = append(ids, v.ID)
		}

		for i, n := range numbers {
			if err := vb.Delete(versionKey(n)); err != nil {
				return err
			}
			if err := tx.Bucket(boltIDsBucket).Delete(ids[i][:]); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
