// Package badgerwindow implements pagedwindow.Store over a badger
// key-value store, the teacher's other persistent backend choice
// (storage/badger/badger.go): same Open/Update/View transaction shape,
// repurposed here to page-indexed keys instead of block-id triples.
package badgerwindow

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger"

	"github.com/anttila/branchfs/mlog"
)

var keyPrefix = []byte("p:")

type badgerStore struct {
	db *badger.DB
}

// Open creates (or reopens) a badger store rooted at dir, using dir for
// both the key and value directories as the teacher's backend does.
func Open(dir string) (*badgerStore, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerwindow.Open %s: %w", dir, err)
	}
	mlog.Printf2("window/badgerwindow/badgerwindow", "Open %s", dir)
	return &badgerStore{db: db}, nil
}

func pageKey(index uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	n := copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[n:], index)
	return k
}

func (s *badgerStore) ReadPage(index uint64) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(index))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerwindow.ReadPage %d: %w", index, err)
	}
	return out, nil
}

func (s *badgerStore) WritePage(index uint64, data []byte) error {
	mlog.Printf2("window/badgerwindow/badgerwindow", "WritePage %d (%d b)", index, len(data))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pageKey(index), data)
	})
	if err != nil {
		return fmt.Errorf("badgerwindow.WritePage %d: %w", index, err)
	}
	return nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
