package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ResourceID identifies a resource independent of model version.
//
// The string form is Type[agent,name=value], for example
// std::File[web01,path=/etc/motd].
type ResourceID struct {
	EntityType     string
	Agent          string
	AttributeName  string
	AttributeValue string
}

func (id ResourceID) String() string {
	var b strings.Builder
	b.Grow(len(id.EntityType) + len(id.Agent) + len(id.AttributeName) + len(id.AttributeValue) + 4)
	b.WriteString(id.EntityType)
	b.WriteByte('[')
	b.WriteString(id.Agent)
	b.WriteByte(',')
	b.WriteString(id.AttributeName)
	b.WriteByte('=')
	b.WriteString(id.AttributeValue)
	b.WriteByte(']')
	return b.String()
}

// IsZero reports whether id is the zero value.
func (id ResourceID) IsZero() bool {
	return id == ResourceID{}
}

// AtVersion binds id to a model version.
func (id ResourceID) AtVersion(version int64) ResourceVersionID {
	return ResourceVersionID{ResourceID: id, Version: version}
}

// ResourceVersionID is a ResourceID bound to one model version. It is
// globally unique.
type ResourceVersionID struct {
	ResourceID
	Version int64
}

func (rv ResourceVersionID) String() string {
	return rv.ResourceID.String() + ",v=" + strconv.FormatInt(rv.Version, 10)
}

// ParseResourceID parses the Type[agent,name=value] form.
func ParseResourceID(s string) (ResourceID, error) {
	open := strings.IndexByte(s, '[')
	if open <= 0 || !strings.HasSuffix(s, "]") {
		return ResourceID{}, fmt.Errorf("invalid resource id %q: expected Type[agent,name=value]", s)
	}
	body := s[open+1 : len(s)-1]

	agent, rest, ok := strings.Cut(body, ",")
	if !ok || agent == "" {
		return ResourceID{}, fmt.Errorf("invalid resource id %q: missing agent", s)
	}
	name, value, ok := strings.Cut(rest, "=")
	if !ok || name == "" {
		return ResourceID{}, fmt.Errorf("invalid resource id %q: missing attribute name", s)
	}

	return ResourceID{
		EntityType:     s[:open],
		Agent:          agent,
		AttributeName:  name,
		AttributeValue: value,
	}, nil
}

// ParseResourceVersionID parses the Type[agent,name=value],v=N form.
func ParseResourceVersionID(s string) (ResourceVersionID, error) {
	idx := strings.LastIndex(s, "],v=")
	if idx < 0 {
		return ResourceVersionID{}, fmt.Errorf("invalid resource version id %q: missing ,v=N suffix", s)
	}
	id, err := ParseResourceID(s[:idx+1])
	if err != nil {
		return ResourceVersionID{}, err
	}
	version, err := strconv.ParseInt(s[idx+len("],v="):], 10, 64)
	if err != nil {
		return ResourceVersionID{}, fmt.Errorf("invalid resource version id %q: %w", s, err)
	}
	return ResourceVersionID{ResourceID: id, Version: version}, nil
}

// MustParseResourceID is like ParseResourceID but panics on error.
func MustParseResourceID(s string) ResourceID {
	id, err := ParseResourceID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalText implements encoding.TextMarshaler.
func (id ResourceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ResourceID) UnmarshalText(text []byte) error {
	parsed, err := ParseResourceID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// compareIDs orders resource ids by their string form.
func compareIDs(a, b ResourceID) int {
	return strings.Compare(a.String(), b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (rv ResourceVersionID) MarshalText() ([]byte, error) {
	return []byte(rv.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (rv *ResourceVersionID) UnmarshalText(text []byte) error {
	parsed, err := ParseResourceVersionID(string(text))
	if err != nil {
		return err
	}
	*rv = parsed
	return nil
}
