package bolt

import (
	"errors"
	"time"

	"github.com/shiroyk/courier/cookie"
)

// Store is a cookie.Store keeping each named jar snapshot under its name.
type Store struct {
	db  *DB
	ttl time.Duration
}

// NewStore opens the store under path. Snapshots expire ttl after they are
// saved, never when ttl is 0.
func NewStore(path string, ttl time.Duration) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Load returns the cookies saved under name, nil if there are none.
func (s *Store) Load(name string) ([]cookie.Cookie, error) {
	value, err := s.db.Get([]byte(name))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return cookie.Unmarshal(value)
}

// Save replaces the cookies saved under name.
func (s *Store) Save(name string, cookies []cookie.Cookie) error {
	return s.db.Put([]byte(name), cookie.Marshal(cookies), s.ttl)
}

// Delete removes the cookies saved under name.
func (s *Store) Delete(name string) error {
	return s.db.Delete([]byte(name))
}

// Names returns the names of the saved jars.
func (s *Store) Names() ([]string, error) {
	return s.db.Keys()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
