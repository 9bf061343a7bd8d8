// Package savestore keeps save games in a bbolt database.
//
// Each save is the entity text snapshot written by the server, compressed
// with zstd, plus a small gob-encoded metadata record used for listings and
// for checking that a save matches the loaded program.
package savestore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/progsvm/internal/types"
)

var (
	// ErrSaveNotFound is returned when a save doesn't exist.
	ErrSaveNotFound = errors.New("save not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("savestore closed")

	// ErrInvalidName is returned for empty save names.
	ErrInvalidName = errors.New("invalid save name")
)

var (
	bucketSaves = []byte("saves")
	bucketMeta  = []byte("meta")
)

// Config holds store options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	Logger zerolog.Logger
}

// DefaultConfig returns the default configuration for a database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:   path,
		Logger: zerolog.Nop(),
	}
}

// SaveMeta describes one save.
type SaveMeta struct {
	Name        string
	Map         string
	Time        float32 // simulation time at save
	Fingerprint types.Fingerprint
	Size        int // uncompressed snapshot size
	Created     time.Time
}

// Store is a save game database.
type Store struct {
	db  *bolt.DB
	cfg Config
	log zerolog.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a store.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: cfg.Logger, enc: enc, dec: dec}
	if !cfg.ReadOnly {
		err := db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketSaves, bucketMeta} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	return s, nil
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores a snapshot under meta.Name, replacing any previous save of
// that name. Size and Created are filled in.
func (s *Store) Put(meta SaveMeta, snapshot []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if meta.Name == "" {
		return ErrInvalidName
	}
	meta.Size = len(snapshot)
	if meta.Created.IsZero() {
		meta.Created = time.Now().UTC()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&meta); err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	packed := s.enc.EncodeAll(snapshot, nil)

	err := s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(meta.Name)
		if err := tx.Bucket(bucketSaves).Put(key, packed); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(key, buf.Bytes())
	})
	if err != nil {
		return err
	}

	s.log.Debug().
		Str("save", meta.Name).
		Str("map", meta.Map).
		Int("bytes", meta.Size).
		Int("stored", len(packed)).
		Msg("save written")
	return nil
}

// Get returns a save's metadata and snapshot.
func (s *Store) Get(name string) (*SaveMeta, []byte, error) {
	if err := s.check(); err != nil {
		return nil, nil, err
	}

	var meta SaveMeta
	var packed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		key := []byte(name)
		m := tx.Bucket(bucketMeta).Get(key)
		data := tx.Bucket(bucketSaves).Get(key)
		if m == nil || data == nil {
			return fmt.Errorf("%w: %s", ErrSaveNotFound, name)
		}
		// Values are only valid inside the transaction.
		packed = append([]byte(nil), data...)
		return gob.NewDecoder(bytes.NewReader(m)).Decode(&meta)
	})
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := s.dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress %s: %w", name, err)
	}
	return &meta, snapshot, nil
}

// List returns the metadata of every save, newest first.
func (s *Store) List() ([]SaveMeta, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var out []SaveMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var meta SaveMeta
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&meta); err != nil {
				return fmt.Errorf("decode meta %s: %w", k, err)
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

// Delete removes a save.
func (s *Store) Delete(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(name)
		if tx.Bucket(bucketMeta).Get(key) == nil {
			return fmt.Errorf("%w: %s", ErrSaveNotFound, name)
		}
		if err := tx.Bucket(bucketSaves).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(key)
	})
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
