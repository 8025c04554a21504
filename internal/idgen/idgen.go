// Package idgen supplies the ID generators used for run and request IDs.
// Components take a Generator so tests can swap in predictable IDs.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator returns a new unique ID on every call.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID yields random base-36 IDs of n characters. Bytes at or above the
// largest multiple of 36 are discarded so every character is equally likely.
func NanoID(n int) Generator {
	const limit = 256 - 256%len(base36)
	return func() string {
		out := make([]byte, 0, n)
		buf := make([]byte, n+n/4+1)
		for len(out) < n {
			rand.Read(buf)
			for _, b := range buf {
				if int(b) >= limit {
					continue
				}
				out = append(out, base36[int(b)%len(base36)])
				if len(out) == n {
					break
				}
			}
		}
		return string(out)
	}
}

// UUIDv7 yields RFC 9562 version 7 UUIDs, which sort by creation time.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Prefixed prepends prefix to every ID from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Default names probe runs.
var Default = UUIDv7()
