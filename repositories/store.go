// Package repositories persists races, entrants, messages and the user
// directory in BadgerDB. Values are CBOR encoded; keys embed zero padded
// ids and timestamps so prefix scans come back in a useful order.
package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"race-lab/contract"
	"race-lab/errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

const sequenceBandwidth = 100

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = (cbor.EncOptions{Time: cbor.TimeRFC3339Nano}).EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Open opens a badger database at path, or an in-memory one when path is
// empty.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

type Store struct {
	db  *badger.DB
	log *slog.Logger

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

func NewStore(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log, seqs: make(map[string]*badger.Sequence)}
}

var _ contract.Store = (*Store)(nil)

// WithTx runs fn in a read-write transaction and commits when fn returns
// nil. A commit that loses a conflict surfaces as ErrVersionMismatch.
func (s *Store) WithTx(ctx context.Context, fn func(tx contract.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrShuttingDown, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn, store: s})
	})
	if errors.Is(err, badger.ErrConflict) {
		s.log.Debug("Transaction conflict", "error", err)
		return fmt.Errorf("%w: %v", errors.ErrVersionMismatch, err)
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx contract.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrShuttingDown, err)
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn, store: s, readOnly: true})
	})
}

// Close releases leased sequence ranges. The database itself belongs to
// the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.log.Warn("Failed to release sequence", "name", name, "error", err)
		}
	}
	s.seqs = make(map[string]*badger.Sequence)
	return nil
}

// nextID hands out ids starting at 1.
func (s *Store) nextID(entity string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.seqs[entity]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte("seq:"+entity), sequenceBandwidth)
		if err != nil {
			return 0, fmt.Errorf("sequence %s: %w", entity, err)
		}
		s.seqs[entity] = seq
	}
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", entity, err)
	}
	return int64(n) + 1, nil
}

type tx struct {
	txn      *badger.Txn
	store    *Store
	readOnly bool
}

var _ contract.Tx = (*tx)(nil)

func (t *tx) get(key string, v any) error {
	item, err := t.txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return decMode.Unmarshal(val, v)
	})
}

func (t *tx) exists(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *tx) set(key string, v any) error {
	b, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return t.txn.Set([]byte(key), b)
}

func (t *tx) del(key string) error {
	return t.txn.Delete([]byte(key))
}

// scan visits keys under prefix in key order, or reverse key order. fn
// returns false to stop.
func (t *tx) scan(prefix string, reverse bool, fn func(key string, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = reverse
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seek := []byte(prefix)
	if reverse {
		seek = append(seek, 0xff)
	}
	for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		var cont bool
		err := item.Value(func(val []byte) error {
			var err error
			cont, err = fn(string(item.Key()), val)
			return err
		})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.NotFound(format, args...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
