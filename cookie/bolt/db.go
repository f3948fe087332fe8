// Package bolt persists cookie jars in a bbolt database.
package bolt

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DefaultFile is the database file name under the store directory.
	DefaultFile = "cookie.db"
	fillPercent = 0.9
)

var (
	jarBucketName    = []byte("jar")
	expireBucketName = []byte("expire")
	// ErrKeyNotFound not found the key
	ErrKeyNotFound = errors.New("key not found")
)

// DB a bbolt.DB with one data bucket and a bucket of key deadlines.
type DB struct {
	db *bbolt.DB
}

// NewDB opens or creates the database file under path, purging expired keys.
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(path, DefaultFile), 0600, &bbolt.Options{
		Timeout:         1 * time.Second,
		InitialMmapSize: 1024,
	})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err = tx.CreateBucketIfNotExists(jarBucketName); err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists(expireBucketName); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	d := &DB{db: db}
	if err = d.Purge(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Put writes the value, expiring after ttl when ttl is above 0.
func (d *DB) Put(key, value []byte, ttl time.Duration) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(jarBucketName).Put(key, value); err != nil {
			return err
		}
		expire := tx.Bucket(expireBucketName)
		if ttl <= 0 {
			return expire.Delete(key)
		}
		deadline := make([]byte, 8)
		binary.BigEndian.PutUint64(deadline, uint64(time.Now().Add(ttl).Unix()))
		return expire.Put(key, deadline)
	})
}

// Get reads the value of key, ErrKeyNotFound if it is absent or expired.
func (d *DB) Get(key []byte) (value []byte, err error) {
	err = d.db.View(func(tx *bbolt.Tx) error {
		if deadline := tx.Bucket(expireBucketName).Get(key); deadline != nil && expired(deadline) {
			return ErrKeyNotFound
		}
		v := tx.Bucket(jarBucketName).Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		// v is only valid inside the transaction
		value = append([]byte(nil), v...)
		return nil
	})
	return
}

// Delete removes key.
func (d *DB) Delete(key []byte) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(expireBucketName).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(jarBucketName).Delete(key)
	})
}

// Keys returns the live keys in byte order.
func (d *DB) Keys() (keys []string, err error) {
	err = d.db.View(func(tx *bbolt.Tx) error {
		expire := tx.Bucket(expireBucketName)
		return tx.Bucket(jarBucketName).ForEach(func(k, _ []byte) error {
			if deadline := expire.Get(k); deadline != nil && expired(deadline) {
				return nil
			}
			keys = append(keys, string(k))
			return nil
		})
	})
	return
}

// Purge deletes the expired keys.
func (d *DB) Purge() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(jarBucketName)
		bucket.FillPercent = fillPercent
		expire := tx.Bucket(expireBucketName)

		var deletedKeys [][]byte
		cursor := expire.Cursor()
		for key, deadline := cursor.First(); key != nil; key, deadline = cursor.Next() {
			if expired(deadline) {
				deletedKeys = append(deletedKeys, append([]byte(nil), key...))
			}
		}
		for _, key := range deletedKeys {
			if err := bucket.Delete(key); err != nil {
				return err
			}
			if err := expire.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (d *DB) Close() error {
	if err := d.db.Sync(); err != nil {
		return err
	}
	return d.db.Close()
}

func expired(deadline []byte) bool {
	return len(deadline) == 8 && time.Now().Unix() > int64(binary.BigEndian.Uint64(deadline))
}
