package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainAttributes = "rollout/attributes/v1"
	DomainBlueprint  = "rollout/blueprint/v1"
)

// Attribute keys that never contribute to the attribute hash. They describe
// graph shape or model version, not the desired state of the resource itself.
const (
	AttrRequires = "requires"
	AttrProvides = "provides"
	AttrVersion  = "version"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes the canonical JSON form of v under the given domain.
func ContentHash(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("content hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// AttributeHash computes the change-detection hash of a resource's attributes.
//
// The requires, provides and version keys are excluded, so reordering keys or
// touching those fields never changes the hash.
func AttributeHash(attrs IRObject) (string, error) {
	h, err := ContentHash(DomainAttributes, attrs.Without(AttrRequires, AttrProvides, AttrVersion))
	if err != nil {
		return "", fmt.Errorf("AttributeHash: %w", err)
	}
	return h, nil
}

// MustAttributeHash is like AttributeHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustAttributeHash(attrs IRObject) string {
	h, err := AttributeHash(attrs)
	if err != nil {
		panic(err)
	}
	return h
}
