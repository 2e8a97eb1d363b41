package vfs

import (
	"fmt"
	"sort"
	"strings"
)

// MountSpecItem is a single key/value pair of a MountSpec.
type MountSpecItem struct {
	Key   string
	Value string
}

// MountSpec describes a mount's backend and location, e.g.
// {type=s3, bucket=photos} with mount prefix "/2024".
//
// Items are kept sorted by key so that two specs holding the same pairs
// compare equal regardless of insertion order.
type MountSpec struct {
	Items       []MountSpecItem
	MountPrefix string
}

// NewMountSpec creates a spec of the given type. An empty type produces a
// spec with no items.
func NewMountSpec(typ string) *MountSpec {
	s := &MountSpec{}
	if typ != "" {
		s.Set("type", typ)
	}
	return s
}

// NewMountSpecFromMap builds a spec from a key/value map.
func NewMountSpecFromMap(items map[string]string, mountPrefix string) *MountSpec {
	s := &MountSpec{MountPrefix: mountPrefix}
	for k, v := range items {
		s.Set(k, v)
	}
	return s
}

// Set adds or replaces the value for key.
func (s *MountSpec) Set(key, value string) {
	i := sort.Search(len(s.Items), func(i int) bool { return s.Items[i].Key >= key })
	if i < len(s.Items) && s.Items[i].Key == key {
		s.Items[i].Value = value
		return
	}
	s.Items = append(s.Items, MountSpecItem{})
	copy(s.Items[i+1:], s.Items[i:])
	s.Items[i] = MountSpecItem{Key: key, Value: value}
}

// Get returns the value for key, or "" when absent.
func (s *MountSpec) Get(key string) string {
	for _, it := range s.Items {
		if it.Key == key {
			return it.Value
		}
	}
	return ""
}

// Type returns the "type" item.
func (s *MountSpec) Type() string {
	return s.Get("type")
}

// Validate checks the invariants a decoded spec must satisfy: non-empty keys,
// strictly ascending order, no duplicates.
func (s *MountSpec) Validate() error {
	for i, it := range s.Items {
		if it.Key == "" {
			return fmt.Errorf("mount spec item %d has an empty key", i)
		}
		if i > 0 && s.Items[i-1].Key >= it.Key {
			return fmt.Errorf("mount spec key %q is duplicated or out of order", it.Key)
		}
	}
	if s.MountPrefix != "" && !strings.HasPrefix(s.MountPrefix, "/") {
		return fmt.Errorf("mount prefix %q is not absolute", s.MountPrefix)
	}
	return nil
}

// Equal reports whether both specs hold the same items and mount prefix.
func (s *MountSpec) Equal(other *MountSpec) bool {
	return s.itemsEqual(other) && s.MountPrefix == other.MountPrefix
}

// Match reports whether a mount described by s serves the location
// described by spec: the items must be equal and spec's mount prefix must
// lie inside s's mount prefix.
func (s *MountSpec) Match(spec *MountSpec) bool {
	return s.MatchPath(spec, spec.MountPrefix)
}

// MatchPath is Match with an explicit path instead of spec's mount prefix.
func (s *MountSpec) MatchPath(spec *MountSpec, path string) bool {
	return s.itemsEqual(spec) && pathHasPrefix(path, s.MountPrefix)
}

func (s *MountSpec) itemsEqual(other *MountSpec) bool {
	if len(s.Items) != len(other.Items) {
		return false
	}
	for i := range s.Items {
		if s.Items[i] != other.Items[i] {
			return false
		}
	}
	return true
}

// pathHasPrefix is a component-wise prefix test: "/a" is a prefix of "/a"
// and "/a/b" but not of "/ab".
func pathHasPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return strings.HasSuffix(prefix, "/") || rest == "" || rest[0] == '/'
}

// String renders the spec as "type=s3,bucket=photos:/2024".
func (s *MountSpec) String() string {
	var b strings.Builder
	for i, it := range s.Items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(it.Key)
		b.WriteByte('=')
		b.WriteString(it.Value)
	}
	if s.MountPrefix != "" {
		b.WriteByte(':')
		b.WriteString(s.MountPrefix)
	}
	return b.String()
}

// ParseMountSpec parses the String form back into a spec.
func ParseMountSpec(str string) (*MountSpec, error) {
	s := &MountSpec{}
	items := str
	if i := strings.IndexByte(str, ':'); i >= 0 {
		items, s.MountPrefix = str[:i], str[i+1:]
	}
	if items != "" {
		for _, pair := range strings.Split(items, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("invalid mount spec item %q", pair)
			}
			s.Set(k, v)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
