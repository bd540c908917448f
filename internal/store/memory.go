package store

import (
	"strings"
	"sync"

	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/pageid"
)

// MemoryStore is an in-process PageStore backed by a skip list. It serves
// scratch databases and tests; nothing survives the process.
type MemoryStore struct {
	mu    sync.RWMutex
	pages *skipList
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: newSkipList()}
}

func (s *MemoryStore) IsEmpty() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages.size == 0, nil
}

func (s *MemoryStore) GetPageIDBefore(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	s.mu.RLock()
	found, ok := s.pages.floor(id.Bytes(), exclusive)
	s.mu.RUnlock()
	if !ok {
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	return CheckNeighbour(id, found, true, exclusive)
}

func (s *MemoryStore) GetPageIDAfter(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	s.mu.RLock()
	found, ok := s.pages.ceiling(id.Bytes(), exclusive)
	s.mu.RUnlock()
	if !ok {
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	return CheckNeighbour(id, found, false, exclusive)
}

func (s *MemoryStore) GetPageData(id pageid.PageID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.pages.get(id.Bytes())
	if !ok {
		return nil, errors.PageNotFound(id.Bytes())
	}
	return buf, nil
}

func (s *MemoryStore) PageExists(id pageid.PageID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pages.get(id.Bytes())
	return ok, nil
}

// PageIDsWithPrefix lists stored ids beginning with prefix, in order
func (s *MemoryStore) PageIDsWithPrefix(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	s.pages.ascend(prefix, func(key string, _ []byte) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		out = append(out, key)
		return true
	})
	return out
}

func (s *MemoryStore) StartTransaction() (Transaction, error) {
	return &memoryTransaction{store: s}, nil
}

type memoryOp struct {
	id     string
	buf    []byte
	remove bool
}

type memoryTransaction struct {
	store *MemoryStore
	ops   []memoryOp
	done  bool
}

func (t *memoryTransaction) RemovePage(id pageid.PageID) error {
	if t.done {
		return errors.TransactionFailed("transaction already finished", nil)
	}
	t.ops = append(t.ops, memoryOp{id: id.Bytes(), remove: true})
	return nil
}

func (t *memoryTransaction) WritePage(id pageid.PageID, buf []byte) error {
	if t.done {
		return errors.TransactionFailed("transaction already finished", nil)
	}
	t.ops = append(t.ops, memoryOp{id: id.Bytes(), buf: append([]byte(nil), buf...)})
	return nil
}

func (t *memoryTransaction) Apply() error {
	if t.done {
		return errors.TransactionFailed("transaction already finished", nil)
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		if op.remove {
			t.store.pages.delete(op.id)
		} else {
			t.store.pages.put(op.id, op.buf)
		}
	}
	return nil
}

func (t *memoryTransaction) Abort() {
	t.done = true
	t.ops = nil
}
