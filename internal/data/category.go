package data

import "strings"

// Category is an ordered path of segments, e.g. ["b","c"].
// Values are treated as immutable once constructed.
type Category []string

// NewCategory copies segments into a new Category
func NewCategory(segments ...string) Category {
	c := make(Category, len(segments))
	copy(c, segments)
	return c
}

// ParseCategory splits a slash separated path, "/b/c" and "b/c" both yield ["b","c"]
func ParseCategory(path string) Category {
	path = strings.Trim(path, "/")
	if path == "" {
		return Category{}
	}
	return NewCategory(strings.Split(path, "/")...)
}

// Compare orders categories segment by segment; a prefix sorts first
func (c Category) Compare(other Category) int {
	n := len(c)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if r := strings.Compare(c[i], other[i]); r != 0 {
			return r
		}
	}
	switch {
	case len(c) < len(other):
		return -1
	case len(c) > len(other):
		return 1
	}
	return 0
}

func (c Category) Equal(other Category) bool {
	return c.Compare(other) == 0
}

// Append returns a new category with segment added to the end
func (c Category) Append(segment string) Category {
	out := make(Category, len(c), len(c)+1)
	copy(out, c)
	return append(out, segment)
}

// HasPrefix reports whether prefix names an ancestor of (or equals) c
func (c Category) HasPrefix(prefix Category) bool {
	if len(prefix) > len(c) {
		return false
	}
	for i := range prefix {
		if c[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (c Category) String() string {
	return "/" + strings.Join(c, "/")
}
