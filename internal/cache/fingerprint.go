// Package cache implements the TTL+LRU response cache described in spec
// §4.6 (component H), grounded on the teacher's internal/cache/memory.go
// (hashicorp/golang-lru/v2/expirable wrapper) for storage and its
// handler.go fingerprinting approach for the cache key, swapped from
// crypto/sha256 to cespare/xxhash/v2 since the key only needs to be a
// stable, collision-resistant map key rather than cryptographically
// secure.
package cache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FingerprintInput is the request shape fingerprinted for cache keys, per
// spec §4.6: {method, hostname, port, protocol, path, sorted(query),
// headers-subset, body-hash}.
type FingerprintInput struct {
	Method    string
	Hostname  string
	Port      int
	Protocol  string
	Path      string
	Query     map[string]string
	Headers   map[string]string // caller-chosen subset to include
	HeaderKeys []string          // which header names to include, in order
	Body      []byte
}

// Fingerprint computes a stable cache key for in, per spec §4.6.
func Fingerprint(in FingerprintInput) string {
	var b strings.Builder
	b.WriteString(in.Method)
	b.WriteByte('|')
	b.WriteString(in.Protocol)
	b.WriteByte('|')
	b.WriteString(in.Hostname)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(in.Port))
	b.WriteByte('|')
	b.WriteString(in.Path)
	b.WriteByte('|')

	queryKeys := make([]string, 0, len(in.Query))
	for k := range in.Query {
		queryKeys = append(queryKeys, k)
	}
	sort.Strings(queryKeys)
	for _, k := range queryKeys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(in.Query[k])
		b.WriteByte('&')
	}
	b.WriteByte('|')

	for _, k := range in.HeaderKeys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(in.Headers[k])
		b.WriteByte('&')
	}
	b.WriteByte('|')

	bodyHash := xxhash.Sum64(in.Body)
	b.WriteString(strconv.FormatUint(bodyHash, 16))

	sum := xxhash.Sum64String(b.String())
	return strconv.FormatUint(sum, 16)
}
