// Package store keeps server-assigned credentials between runs so that a
// returning player logs in with its previous user id and access hash.
// Records live in BadgerDB, CBOR encoded, keyed by the identity
// fingerprint.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	lpsclient "github.com/quandastudio/lpsclient-go"
)

const keyPrefix = "auth:"

// Options configures an AuthStore.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// record is the persisted form of lpsclient.AuthData. The social access
// token is never written.
type record struct {
	Login      string    `cbor:"login"`
	SnUID      string    `cbor:"sn_uid,omitempty"`
	SnType     string    `cbor:"sn_type"`
	UserID     int       `cbor:"user_id"`
	AccessHash string    `cbor:"acc_hash"`
	SavedAt    time.Time `cbor:"saved_at"`
}

// AuthStore persists credentials. It implements lpsclient.AuthSaver.
type AuthStore struct {
	db  *badger.DB
	log *slog.Logger
}

var _ lpsclient.AuthSaver = (*AuthStore)(nil)

// Open opens or creates the store.
func Open(opts Options) (*AuthStore, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	bo := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo.Logger = nil
	bo.NumVersionsToKeep = 1
	bo.SyncWrites = true

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &AuthStore{db: db, log: opts.Logger}, nil
}

// Close closes the database.
func (s *AuthStore) Close() error {
	return s.db.Close()
}

func key(ad lpsclient.AuthData) []byte {
	return []byte(keyPrefix + ad.Hash())
}

// Save records the server-assigned credentials of ad. Identities without a
// user id are ignored.
func (s *AuthStore) Save(ctx context.Context, ad lpsclient.AuthData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ad.UserID <= 0 {
		return nil
	}
	val, err := cbor.Marshal(record{
		Login:      ad.Login,
		SnUID:      ad.SnUID,
		SnType:     string(ad.SnType),
		UserID:     ad.UserID,
		AccessHash: ad.AccessHash,
		SavedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(ad), val)
	}); err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	s.log.Debug("credentials saved", "login", ad.Login, "user_id", ad.UserID)
	return nil
}

// Restore fills ad's user id and access hash from a previous login. It
// reports whether a record was found.
func (s *AuthStore) Restore(ad *lpsclient.AuthData) (bool, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(*ad))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: restore: %w", err)
	}
	ad.UserID = rec.UserID
	ad.AccessHash = rec.AccessHash
	return true, nil
}

// Forget removes the record for ad.
func (s *AuthStore) Forget(ad lpsclient.AuthData) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(ad))
	})
}

// List returns every stored identity in key order.
func (s *AuthStore) List() ([]lpsclient.AuthData, error) {
	var out []lpsclient.AuthData
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, lpsclient.AuthData{
				Login:      rec.Login,
				SnUID:      rec.SnUID,
				SnType:     lpsclient.AuthType(rec.SnType),
				UserID:     rec.UserID,
				AccessHash: rec.AccessHash,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}
