// Package imagestore keeps compiled program images in BadgerDB, keyed by
// their content fingerprint.
package imagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/progs"
)

var (
	// ErrImageNotFound is returned when no image matches.
	ErrImageNotFound = errors.New("image not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("imagestore closed")

	// ErrCorruptMeta is returned when a metadata record cannot be decoded.
	ErrCorruptMeta = errors.New("corrupt image metadata")
)

// Key prefixes.
var (
	// prefixImage + fingerprint (32 bytes) -> raw image
	prefixImage = []byte{0x01}

	// prefixMeta + fingerprint (32 bytes) -> encoded Meta
	prefixMeta = []byte{0x02}
)

// Config contains store configuration.
type Config struct {
	// Path is the database directory.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites syncs every write to disk.
	SyncWrites bool

	Logger zerolog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		Logger:     zerolog.Nop(),
	}
}

// Meta describes a stored image.
type Meta struct {
	Fingerprint types.Fingerprint
	Name        string
	Size        int
	CRC         uint16
	Functions   int
	Stored      time.Time
}

// Store is a BadgerDB-backed image store.
type Store struct {
	db     *badger.DB
	log    zerolog.Logger
	mu     sync.Mutex
	closed atomic.Bool
}

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, log: cfg.Logger}, nil
}

func key(prefix []byte, fp types.Fingerprint) []byte {
	k := make([]byte, 1+len(fp))
	k[0] = prefix[0]
	copy(k[1:], fp[:])
	return k
}

// encodeMeta lays out a record as
// crc(2) size(4) functions(4) stored(8, unix nanos) name.
func encodeMeta(m *Meta) []byte {
	buf := make([]byte, 18+len(m.Name))
	binary.LittleEndian.PutUint16(buf[0:], m.CRC)
	binary.LittleEndian.PutUint32(buf[2:], uint32(m.Size))
	binary.LittleEndian.PutUint32(buf[6:], uint32(m.Functions))
	binary.LittleEndian.PutUint64(buf[10:], uint64(m.Stored.UnixNano()))
	copy(buf[18:], m.Name)
	return buf
}

func decodeMeta(fp types.Fingerprint, val []byte) (*Meta, error) {
	if len(val) < 18 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptMeta, len(val))
	}
	return &Meta{
		Fingerprint: fp,
		CRC:         binary.LittleEndian.Uint16(val[0:]),
		Size:        int(binary.LittleEndian.Uint32(val[2:])),
		Functions:   int(binary.LittleEndian.Uint32(val[6:])),
		Stored:      time.Unix(0, int64(binary.LittleEndian.Uint64(val[10:]))).UTC(),
		Name:        string(val[18:]),
	}, nil
}

// Put validates raw as a program image and stores it. Storing the same
// image again only updates its name.
func (s *Store) Put(name string, raw []byte) (types.Fingerprint, error) {
	if s.closed.Load() {
		return types.Fingerprint{}, ErrClosed
	}
	img, err := progs.LoadFromBytes(raw)
	if err != nil {
		return types.Fingerprint{}, err
	}

	meta := &Meta{
		Fingerprint: img.Fingerprint,
		Name:        name,
		Size:        len(raw),
		CRC:         img.CRC,
		Functions:   len(img.Functions),
		Stored:      time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key(prefixImage, img.Fingerprint), raw); err != nil {
			return err
		}
		return txn.Set(key(prefixMeta, img.Fingerprint), encodeMeta(meta))
	})
	if err != nil {
		return types.Fingerprint{}, err
	}

	s.log.Debug().
		Str("image", img.Fingerprint.Short()).
		Str("name", name).
		Int("bytes", len(raw)).
		Msg("image stored")
	return img.Fingerprint, nil
}

// Get returns the raw image with fingerprint fp.
func (s *Store) Get(fp types.Fingerprint) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(prefixImage, fp))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrImageNotFound, fp)
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// List returns every stored image, most recently stored first.
func (s *Store) List() ([]Meta, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixMeta
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			fp, err := types.FingerprintFromBytes(item.Key()[1:])
			if err != nil {
				continue
			}
			err = item.Value(func(val []byte) error {
				m, err := decodeMeta(fp, val)
				if err != nil {
					return err
				}
				out = append(out, *m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stored.After(out[j].Stored) })
	return out, nil
}

// Resolve accepts a base58 fingerprint or an image name and returns the
// matching fingerprint. Names resolve to the most recently stored image.
func (s *Store) Resolve(ref string) (types.Fingerprint, error) {
	if fp, err := types.FingerprintFromBase58(ref); err == nil {
		return fp, nil
	}
	list, err := s.List()
	if err != nil {
		return types.Fingerprint{}, err
	}
	for _, m := range list {
		if m.Name == ref {
			return m.Fingerprint, nil
		}
	}
	return types.Fingerprint{}, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
