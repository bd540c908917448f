package kvstore

import (
	"bytes"
	"encoding/base64"

	"github.com/devrev/groove/internal/errors"
	bolt "go.etcd.io/bbolt"
)

// KeyValue is one entry returned by the paginated iterators. Keys are
// returned with their namespace.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Page is one batch of entries plus the token resuming after it. Token is
// empty when the iteration is exhausted.
type Page struct {
	Entries []KeyValue
	Token   string
}

// bounds restricts a cursor walk to [start, end) and to prefix
type bounds struct {
	start  []byte
	end    []byte
	prefix []byte
}

func (b bounds) valid(key []byte) bool {
	if key == nil {
		return false
	}
	if b.prefix != nil && !bytes.HasPrefix(key, b.prefix) {
		return false
	}
	return b.end == nil || bytes.Compare(key, b.end) < 0
}

// IterateForward returns up to limit entries starting at startKey
func (s *BoltStore) IterateForward(startKey []byte, limit int, token string) (Page, error) {
	return s.iterate(bounds{start: startKey}, limit, token)
}

// IteratePrefix returns up to limit entries whose key begins with prefix
func (s *BoltStore) IteratePrefix(prefix []byte, limit int, token string) (Page, error) {
	return s.iterate(bounds{start: prefix, prefix: prefix}, limit, token)
}

// IterateBounds returns up to limit entries in [lower, upper). A nil upper
// is unbounded.
func (s *BoltStore) IterateBounds(lower, upper []byte, limit int, token string) (Page, error) {
	return s.iterate(bounds{start: lower, end: upper}, limit, token)
}

func (s *BoltStore) iterate(b bounds, limit int, token string) (Page, error) {
	if limit <= 0 {
		return Page{}, errors.InvalidArgument("iteration limit must be positive", nil)
	}
	seek := b.start
	resume, err := decodeToken(token)
	if err != nil {
		return Page{}, err
	}
	if resume != nil {
		if bytes.Compare(resume, seek) < 0 {
			return Page{}, errors.InvalidArgument("continuation token precedes iteration start", nil)
		}
		seek = resume
	}

	var out Page
	err = s.view(func(bucket *bolt.Bucket) error {
		c := bucket.Cursor()
		k, v := c.Seek(seek)
		for ; b.valid(k); k, v = c.Next() {
			if len(out.Entries) == limit {
				out.Token = encodeToken(k)
				return nil
			}
			out.Entries = append(out.Entries, KeyValue{Key: cloneBytes(k), Value: cloneBytes(v)})
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	return out, nil
}

// Tokens carry the next key to visit
func encodeToken(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

func decodeToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	key, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.InvalidArgument("malformed continuation token", err)
	}
	return key, nil
}
