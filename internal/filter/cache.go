package filter

import (
	"fmt"

	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"
)

type cacheKey struct {
	filter string
	uid    uint32
	gid    uint32
}

func hashKey(k cacheKey) uint32 {
	return uint32(xxh3.HashStringSeed(k.filter, uint64(k.uid)<<32|uint64(k.gid)))
}

// CachingCompiler memoizes bytecode per (filter, uid, gid). Bytecode is
// immutable, so cached programs are shared between event rules.
type CachingCompiler struct {
	next  Compiler
	cache *lru.SyncedLRU[cacheKey, *Bytecode]
}

// NewCachingCompiler wraps next with an LRU of the given capacity.
func NewCachingCompiler(next Compiler, size uint32) (*CachingCompiler, error) {
	cache, err := lru.NewSynced[cacheKey, *Bytecode](size, hashKey)
	if err != nil {
		return nil, fmt.Errorf("filter cache: %w", err)
	}
	return &CachingCompiler{next: next, cache: cache}, nil
}

// Compile returns the cached program or compiles and caches it. Failures
// are not cached.
func (c *CachingCompiler) Compile(filter string, uid, gid uint32) (*Bytecode, error) {
	key := cacheKey{filter: filter, uid: uid, gid: gid}
	if bc, ok := c.cache.Get(key); ok {
		return bc, nil
	}
	bc, err := c.next.Compile(filter, uid, gid)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, bc)
	return bc, nil
}

// Len returns the number of cached programs.
func (c *CachingCompiler) Len() int {
	return c.cache.Len()
}
