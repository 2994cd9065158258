package storage

import (
	"testing"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore(4)
	})
}

func TestMemoryStore_SingleShard(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore(1)
	})
}

func TestNewMemoryStore_DefaultShards(t *testing.T) {
	s := NewMemoryStore(0)
	if len(s.shards) != defaultMemoryShards {
		t.Errorf(`expected %d shards, got %d`, defaultMemoryShards, len(s.shards))
	}
}
