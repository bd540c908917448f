package kvstore

import (
	"bytes"

	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/store"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

type opKind uint8

const (
	opPut opKind = iota
	opDelete
	opDeletePrefix
)

type operation struct {
	kind  opKind
	key   []byte
	value []byte
}

// Transaction collects operations in memory and commits them in one bbolt
// update. Readers see either none or all of its effects.
type Transaction struct {
	store *BoltStore
	ops   []operation
	done  bool
}

var _ store.Transaction = (*Transaction)(nil)

// Begin starts a transaction with the concrete type, which also carries
// metadata operations
func (s *BoltStore) Begin() *Transaction {
	return &Transaction{store: s}
}

func (s *BoltStore) StartTransaction() (store.Transaction, error) {
	return s.Begin(), nil
}

func (t *Transaction) add(op operation) error {
	if t.done {
		return errors.TransactionFailed("transaction already finished", nil)
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *Transaction) RemovePage(id pageid.PageID) error {
	return t.add(operation{kind: opDelete, key: []byte(pagePrefix + id.Bytes())})
}

func (t *Transaction) WritePage(id pageid.PageID, buf []byte) error {
	return t.add(operation{kind: opPut, key: []byte(pagePrefix + id.Bytes()), value: append([]byte{}, buf...)})
}

// RemovePagesWithPrefix removes every page whose id begins with prefix;
// the matching ids are resolved when the transaction applies
func (t *Transaction) RemovePagesWithPrefix(prefix string) error {
	return t.add(operation{kind: opDeletePrefix, key: []byte(pagePrefix + prefix)})
}

func (t *Transaction) SetMeta(key string, value []byte) {
	_ = t.add(operation{kind: opPut, key: []byte(metaPrefix + key), value: append([]byte{}, value...)})
}

func (t *Transaction) RemoveMeta(key string) {
	_ = t.add(operation{kind: opDelete, key: []byte(metaPrefix + key)})
}

// Apply commits every collected operation atomically
func (t *Transaction) Apply() error {
	if t.done {
		return errors.TransactionFailed("transaction already finished", nil)
	}
	t.done = true

	err := t.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.store.bucket)
		if b == nil {
			return errors.Unsupported("page store is read-only")
		}
		b.FillPercent = t.store.fillPercent

		for _, op := range t.ops {
			switch op.kind {
			case opPut:
				if err := b.Put(op.key, op.value); err != nil {
					return err
				}
			case opDelete:
				if err := b.Delete(op.key); err != nil {
					return err
				}
			case opDeletePrefix:
				if err := deletePrefix(b, op.key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.store.logger.Warn("Page store transaction failed",
			zap.Int("operations", len(t.ops)),
			zap.Error(err))
		if errors.IsStorageError(err) {
			return err
		}
		return errors.TransactionFailed("failed to apply transaction", err)
	}
	return nil
}

func (t *Transaction) Abort() {
	t.done = true
	t.ops = nil
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, cloneBytes(k))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
