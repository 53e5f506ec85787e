// Package ir provides the constrained value model used for resource attributes.
//
// This package contains value types and hashing only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers, strings for fractions
//   - Object keys are ordered by UTF-16 code units (RFC 8785) when serialized
//   - Content hashes use canonical JSON plus SHA-256 with domain separation
//   - All JSON tags use snake_case
package ir
