// Package badger stores public shares in an embedded BadgerDB. Expiring
// shares are written with a native TTL so the database evicts them itself.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/sagarc03/stowdrive"
)

// keyPrefix namespaces share records so the database can hold other data.
const keyPrefix = "share:"

// InMemory is the path that opens a non-persistent database.
const InMemory = ":memory:"

type Store struct {
	db *badger.DB
}

// Open opens or creates the database at path. An InMemory path keeps all
// data in memory.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	if path == InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func shareKey(sharekey string) []byte {
	return []byte(keyPrefix + sharekey)
}

func (s *Store) Get(ctx context.Context, sharekey string) (stowdrive.ShareObject, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.ShareObject{}, fmt.Errorf("get: %w", err)
	}

	var share stowdrive.ShareObject
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(shareKey(sharekey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &share)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return stowdrive.ShareObject{}, stowdrive.ErrNotFound
		}
		return stowdrive.ShareObject{}, fmt.Errorf("get: %w", err)
	}

	return share, nil
}

// Put writes share with a TTL matching its expiration.
func (s *Store) Put(ctx context.Context, sharekey string, share stowdrive.ShareObject) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put: %w", err)
	}

	payload, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("put: encode share: %w", err)
	}

	entry := badger.NewEntry(shareKey(sharekey), payload)
	if ttl := share.TTL(time.Now()); ttl > 0 {
		entry = entry.WithTTL(ttl)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("put: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, sharekey string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := shareKey(sharekey)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return stowdrive.ErrNotFound
		}
		return fmt.Errorf("delete: %w", err)
	}

	return nil
}

// List scans share records with a key prefix, in sharekey order.
func (s *Store) List(ctx context.Context, prefix string) ([]stowdrive.ShareRecord, error) {
	records := []stowdrive.ShareRecord{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = shareKey(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if len(records)%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			rec := stowdrive.ShareRecord{ShareKey: string(item.Key()[len(keyPrefix):])}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec.Share)
			}); err != nil {
				return fmt.Errorf("decode share %s: %w", rec.ShareKey, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	return records, nil
}

// RunGC reclaims value log space left by expired and deleted shares. It
// returns nil when there was nothing to rewrite.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return fmt.Errorf("value log gc: %w", err)
}
