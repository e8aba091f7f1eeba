// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package symtab // import "github.com/glink-ld/glink/symtab"

import (
	"strings"

	"github.com/elastic/go-freelru"
	"github.com/ianlancetaylor/demangle"
	"github.com/zeebo/xxh3"

	"github.com/glink-ld/glink/xsync"
)

const demangleCacheSize = 16384

var demangleCache xsync.Once[*freelru.SyncedLRU[string, string]]

func getDemangleCache() *freelru.SyncedLRU[string, string] {
	cache, err := demangleCache.GetOrInit(
		func() (*freelru.SyncedLRU[string, string], error) {
			return freelru.NewSynced[string, string](demangleCacheSize,
				func(s string) uint32 { return uint32(xxh3.HashString(s)) })
		})
	if err != nil {
		// NewSynced only fails on invalid sizing parameters.
		panic(err)
	}
	return *cache
}

// DisplayName returns the demangled form of the symbol's name for
// diagnostics. Names that are not Itanium-mangled are returned unchanged.
func (s *Symbol) DisplayName() string {
	if !strings.HasPrefix(s.Name, "_Z") {
		return s.Name
	}
	cache := getDemangleCache()
	if out, ok := cache.Get(s.Name); ok {
		return out
	}
	out := demangle.Filter(s.Name, demangle.NoClones)
	cache.Add(s.Name, out)
	return out
}
