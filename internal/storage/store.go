// Package storage persists the extension state that outlives a restart:
// settings, user rules, the allowlist, editor content and counters in a
// bbolt database, and settings backups as JSON files.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nfrund/filterbridge/internal/jsoncodec"
)

var (
	bucketSettings = []byte("settings")
	bucketRules    = []byte("rules")
	bucketCounters = []byte("counters")
)

var (
	keyUserRules     = []byte("user_rules")
	keyAllowlist     = []byte("allowlist")
	keyEditorContent = []byte("editor_content")
)

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database at path and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSettings, bucketRules, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Setting returns the stored JSON value for key. ok is false when the key
// was never set.
func (s *Store) Setting(key string) (value json.RawMessage, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSettings).Get([]byte(key))
		if v == nil {
			return nil
		}
		value, ok = append(json.RawMessage(nil), v...), true
		return nil
	})
	return value, ok, err
}

// Settings returns every stored setting.
func (s *Store) Settings() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			out[string(k)] = append(json.RawMessage(nil), v...)
			return nil
		})
	})
	return out, err
}

// SetSetting stores value under key.
func (s *Store) SetSetting(key string, value any) error {
	data, err := jsoncodec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), data)
	})
}

// ReplaceSettings atomically swaps the whole settings bucket for values.
func (s *Store) ReplaceSettings(values map[string]any) error {
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := jsoncodec.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode setting %q: %w", k, err)
		}
		encoded[k] = data
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSettings); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketSettings)
		if err != nil {
			return err
		}
		for k, v := range encoded {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) getList(key []byte) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRules).Get(key)
		if v == nil {
			return nil
		}
		return jsoncodec.Unmarshal(v, &out)
	})
	return out, err
}

func (s *Store) putList(key []byte, list []string) error {
	if list == nil {
		list = []string{}
	}
	data, err := jsoncodec.Marshal(list)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).Put(key, data)
	})
}

// UserRules returns the user's rules, one per entry.
func (s *Store) UserRules() ([]string, error) { return s.getList(keyUserRules) }

// SetUserRules replaces the user's rules.
func (s *Store) SetUserRules(rules []string) error { return s.putList(keyUserRules, rules) }

// Allowlist returns the allowlisted domains.
func (s *Store) Allowlist() ([]string, error) { return s.getList(keyAllowlist) }

// SetAllowlist replaces the allowlisted domains.
func (s *Store) SetAllowlist(domains []string) error { return s.putList(keyAllowlist, domains) }

// EditorContent returns the unsaved text of the fullscreen rules editor.
func (s *Store) EditorContent() (string, error) {
	var content string
	err := s.db.View(func(tx *bolt.Tx) error {
		content = string(tx.Bucket(bucketRules).Get(keyEditorContent))
		return nil
	})
	return content, err
}

// SetEditorContent stores the fullscreen rules editor text.
func (s *Store) SetEditorContent(content string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).Put(keyEditorContent, []byte(content))
	})
}

// Add increments the named counter by delta and returns the new value.
func (s *Store) Add(name string, delta uint64) (uint64, error) {
	var n uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		if v := b.Get([]byte(name)); len(v) == 8 {
			n = binary.BigEndian.Uint64(v)
		}
		n += delta
		return b.Put([]byte(name), binary.BigEndian.AppendUint64(nil, n))
	})
	return n, err
}

// Counter returns the value of the named counter.
func (s *Store) Counter(name string) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCounters).Get([]byte(name)); len(v) == 8 {
			n = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return n, err
}

// ResetCounter sets the named counter back to zero.
func (s *Store) ResetCounter(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCounters).Delete([]byte(name))
	})
}
