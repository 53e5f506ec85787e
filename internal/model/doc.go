// Package model holds the versioned desired-state graph: resource identities,
// the bidirectional requires/provides mapping, immutable per-version model
// states, and the atomic splice that swaps the active version.
//
// A ModelState is never patched in place. ActiveModel replaces it wholesale
// under an exclusive lock, so readers observe either the old version or the
// new one.
package model
