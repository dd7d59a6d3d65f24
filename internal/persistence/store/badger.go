package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"

	"crossword.ai/internal/registry"
)

// Key layout:
//
//	m/owner        owner id
//	m/useq         next unsolved sequence number (uint64 big endian)
//	p/<hash>       puzzle record (JSON)
//	u/<seq>        unsolved hash, seq big endian so keys sort by insertion
//	ui/<hash>      seq of the hash's u/ entry
var (
	keyOwner       = []byte("m/owner")
	keyUnsolvedSeq = []byte("m/useq")
	prefixPuzzle   = []byte("p/")
	prefixUnsolved = []byte("u/")
	prefixUIndex   = []byte("ui/")
)

type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *log.Logger
}

// Badger stores puzzles in an embedded badger LSM. Update runs inside one
// badger read-write transaction.
type Badger struct {
	db *badger.DB
}

type badgerLogger struct{ l *log.Logger }

func (b badgerLogger) Errorf(f string, args ...interface{})   { b.l.Printf("badger ERROR: "+f, args...) }
func (b badgerLogger) Warningf(f string, args ...interface{}) { b.l.Printf("badger WARN: "+f, args...) }
func (b badgerLogger) Infof(string, ...interface{})           {}
func (b badgerLogger) Debugf(string, ...interface{})          {}

func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent badger store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{l: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func puzzleKey(hash string) []byte { return append(append([]byte{}, prefixPuzzle...), hash...) }
func uindexKey(hash string) []byte { return append(append([]byte{}, prefixUIndex...), hash...) }

func unsolvedKey(seq uint64) []byte {
	k := make([]byte, len(prefixUnsolved)+8)
	copy(k, prefixUnsolved)
	binary.BigEndian.PutUint64(k[len(prefixUnsolved):], seq)
	return k
}

func txnGet(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func txnGetPuzzle(txn *badger.Txn, hash string) (registry.Puzzle, bool, error) {
	v, ok, err := txnGet(txn, puzzleKey(hash))
	if err != nil || !ok {
		return registry.Puzzle{}, false, err
	}
	p, err := decodePuzzle(v)
	if err != nil {
		return registry.Puzzle{}, false, fmt.Errorf("puzzle %s: %w", hash, err)
	}
	return p, true, nil
}

// eachUnsolved walks u/ keys in sequence order until fn returns false.
func eachUnsolved(txn *badger.Txn, fn func(hash string) bool) error {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefixUnsolved})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		if !fn(string(v)) {
			return nil
		}
	}
	return nil
}

func (b *Badger) Owner() (owner string, ok bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		v, found, err := txnGet(txn, keyOwner)
		owner, ok = string(v), found
		return err
	})
	return owner, ok, err
}

func (b *Badger) Get(hash string) (p registry.Puzzle, ok bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		p, ok, err = txnGetPuzzle(txn, hash)
		return err
	})
	return p, ok, err
}

func (b *Badger) UnsolvedAll() ([]string, error) {
	out := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		return eachUnsolved(txn, func(h string) bool {
			out = append(out, h)
			return true
		})
	})
	return out, err
}

func (b *Badger) UnsolvedAt(index int) (hash string, found bool, err error) {
	if index < 0 {
		return "", false, nil
	}
	err = b.db.View(func(txn *badger.Txn) error {
		i := 0
		return eachUnsolved(txn, func(h string) bool {
			if i == index {
				hash, found = h, true
				return false
			}
			i++
			return true
		})
	})
	return hash, found, err
}

func (b *Badger) UnsolvedCount() (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixUnsolved})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (b *Badger) Each(fn func(hash string, p registry.Puzzle) error) error {
	type kv struct {
		hash string
		p    registry.Puzzle
	}
	var all []kv
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefixPuzzle})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			hash := string(item.Key()[len(prefixPuzzle):])
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			p, err := decodePuzzle(v)
			if err != nil {
				return fmt.Errorf("puzzle %s: %w", hash, err)
			}
			all = append(all, kv{hash: hash, p: p})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range all {
		if err := fn(e.hash, e.p); err != nil {
			return err
		}
	}
	return nil
}

func (b *Badger) Update(fn func(tx registry.StoreTx) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (b *Badger) Close() error { return b.db.Close() }

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) Get(hash string) (registry.Puzzle, bool, error) {
	return txnGetPuzzle(t.txn, hash)
}

func (t *badgerTx) InsertNew(hash string, p registry.Puzzle) (bool, error) {
	_, exists, err := txnGet(t.txn, puzzleKey(hash))
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	v, err := encodePuzzle(p)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", hash, err)
	}
	return true, t.txn.Set(puzzleKey(hash), v)
}

func (t *badgerTx) Replace(hash string, p registry.Puzzle) error {
	_, exists, err := txnGet(t.txn, puzzleKey(hash))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("replace %s: %w", hash, ErrNotFound)
	}
	v, err := encodePuzzle(p)
	if err != nil {
		return fmt.Errorf("replace %s: %w", hash, err)
	}
	return t.txn.Set(puzzleKey(hash), v)
}

func (t *badgerTx) UnsolvedAdd(hash string) error {
	_, exists, err := txnGet(t.txn, uindexKey(hash))
	if err != nil || exists {
		return err
	}
	var seq uint64
	if v, ok, err := txnGet(t.txn, keyUnsolvedSeq); err != nil {
		return err
	} else if ok {
		seq = binary.BigEndian.Uint64(v)
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, seq+1)
	if err := t.txn.Set(keyUnsolvedSeq, next); err != nil {
		return err
	}
	if err := t.txn.Set(unsolvedKey(seq), []byte(hash)); err != nil {
		return err
	}
	cur := make([]byte, 8)
	binary.BigEndian.PutUint64(cur, seq)
	return t.txn.Set(uindexKey(hash), cur)
}

func (t *badgerTx) UnsolvedRemove(hash string) error {
	v, ok, err := txnGet(t.txn, uindexKey(hash))
	if err != nil || !ok {
		return err
	}
	if err := t.txn.Delete(unsolvedKey(binary.BigEndian.Uint64(v))); err != nil {
		return err
	}
	return t.txn.Delete(uindexKey(hash))
}

func (t *badgerTx) SetOwner(owner string) error {
	return t.txn.Set(keyOwner, []byte(owner))
}
