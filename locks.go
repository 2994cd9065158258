package schemaregistry

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultLockShards = 64

// nameLocks serializes mutations per schema name. Names are spread over a
// fixed number of mutexes, names in different shards never contend.
type nameLocks struct {
	shards []sync.Mutex
}

func newNameLocks(shards int) *nameLocks {
	if shards < 1 {
		shards = defaultLockShards
	}

	return &nameLocks{shards: make([]sync.Mutex, shards)}
}

func (l *nameLocks) lock(name string) func() {
	mu := &l.shards[xxhash.Sum64String(name)%uint64(len(l.shards))]
	mu.Lock()

	return mu.Unlock
}
