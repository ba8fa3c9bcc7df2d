// Package boltwindow implements pagedwindow.Store over a bbolt
// database, for hosts that want crash-safe persistence without real
// persistent memory. It follows the teacher's storage/bolt backend's
// shape: one bucket, fixed-width keys, everything routed through
// db.View/db.Update.
package boltwindow

import (
	"encoding/binary"
	"fmt"

	bbolt "github.com/coreos/bbolt"

	"github.com/anttila/branchfs/mlog"
)

var pagesBucket = []byte("pages")

type boltStore struct {
	db *bbolt.DB
}

// Open creates (or reopens) a bbolt database at path with the single
// bucket boltStore needs, ready to back a pagedwindow.Window.
func Open(path string) (*boltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltwindow.Open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltwindow.Open %s: create bucket: %w", path, err)
	}
	mlog.Printf2("window/boltwindow/boltwindow", "Open %s", path)
	return &boltStore{db: db}, nil
}

func pageKey(index uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, index)
	return k
}

func (s *boltStore) ReadPage(index uint64) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(pagesBucket).Get(pageKey(index))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltwindow.ReadPage %d: %w", index, err)
	}
	return out, nil
}

func (s *boltStore) WritePage(index uint64, data []byte) error {
	mlog.Printf2("window/boltwindow/boltwindow", "WritePage %d (%d b)", index, len(data))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pagesBucket).Put(pageKey(index), data)
	})
	if err != nil {
		return fmt.Errorf("boltwindow.WritePage %d: %w", index, err)
	}
	return nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
