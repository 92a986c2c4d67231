package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devghori1264/agrox/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNotInitialized     = errors.New("registry not initialized")
	ErrAlreadyInitialized = errors.New("registry already initialized")
)

// Store interface (kept minimal, allows swapping implementations).
// Update runs fn in one read-write transaction that commits only if fn
// returns nil.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the record-level view of one transaction.
type Tx interface {
	Registry() (*models.Registry, error)
	PutRegistry(r *models.Registry) error
	Machine(id string) (*models.MachineRecord, error)
	PutMachine(m *models.MachineRecord) error
	Reading(id string) (*models.ReadingRecord, error)
	PutReading(r *models.ReadingRecord) error
	Readings(machine string) ([]*models.ReadingRecord, error)
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // disable badger logs for test clarity
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	return open(opts)
}

// NewInMemoryStore returns a Badger store that keeps nothing on disk.
func NewInMemoryStore() (Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var registryKey = []byte("registry")

func machineKey(id string) []byte {
	return []byte("machine:" + id)
}

func readingKey(id string) []byte {
	return []byte("reading:" + id)
}

func machineReadingsPrefix(machine string) []byte {
	return []byte("machine-readings:" + machine + ":")
}

func (s *BadgerStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) get(key []byte, out any) error {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func (t *badgerTx) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, data)
}

func (t *badgerTx) Registry() (*models.Registry, error) {
	var out models.Registry
	if err := t.get(registryKey, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	if out.Machines == nil {
		out.Machines = make(map[string]string)
	}
	return &out, nil
}

func (t *badgerTx) PutRegistry(r *models.Registry) error {
	return t.put(registryKey, r)
}

func (t *badgerTx) Machine(id string) (*models.MachineRecord, error) {
	var out models.MachineRecord
	if err := t.get(machineKey(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *badgerTx) PutMachine(m *models.MachineRecord) error {
	return t.put(machineKey(m.ID), m)
}

func (t *badgerTx) Reading(id string) (*models.ReadingRecord, error) {
	var out models.ReadingRecord
	if err := t.get(readingKey(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *badgerTx) PutReading(r *models.ReadingRecord) error {
	if err := t.put(readingKey(r.ID), r); err != nil {
		return err
	}
	idx := append(machineReadingsPrefix(r.Machine), r.ID...)
	return t.txn.Set(idx, nil)
}

// Readings returns the readings of one machine, oldest first.
func (t *badgerTx) Readings(machine string) ([]*models.ReadingRecord, error) {
	prefix := machineReadingsPrefix(machine)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
	}

	out := make([]*models.ReadingRecord, 0, len(ids))
	for _, id := range ids {
		r, err := t.Reading(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
