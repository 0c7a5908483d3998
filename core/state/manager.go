package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"stablefactory/storage"
)

// KV is the key-value view handed to modules while an operation is in flight.
// Values are RLP encoded.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVKeys(prefix []byte) ([][]byte, error)
}

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("state: read-only transaction")

// Manager serialises every state transition and applies the writes of a
// successful transition in one batch. A failed transition leaves no trace.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Atomic runs fn against a staged view of the state. The staged writes are
// committed only when fn returns nil.
func (m *Manager) Atomic(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager not initialised")
	}
	if fn == nil {
		return fmt.Errorf("state: transition function required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTx(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn against the committed state. Writes are rejected.
func (m *Manager) View(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager not initialised")
	}
	if fn == nil {
		return fmt.Errorf("state: view function required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(newTx(m.db, true))
}

type stagedValue struct {
	data    []byte
	deleted bool
}

// Tx is a write overlay on top of the committed database.
type Tx struct {
	db       storage.Database
	readOnly bool
	staged   map[string]stagedValue
	order    []string
}

func newTx(db storage.Database, readOnly bool) *Tx {
	return &Tx{db: db, readOnly: readOnly, staged: make(map[string]stagedValue)}
}

func (tx *Tx) raw(key []byte) ([]byte, error) {
	if staged, ok := tx.staged[string(key)]; ok {
		if staged.deleted {
			return nil, nil
		}
		return staged.data, nil
	}
	data, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (tx *Tx) stage(key []byte, value stagedValue) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	id := string(key)
	if _, ok := tx.staged[id]; !ok {
		tx.order = append(tx.order, id)
	}
	tx.staged[id] = value
	return nil
}

// KVPut stores the RLP encoding of value under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.stage(key, stagedValue{data: encoded})
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.raw(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (tx *Tx) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return tx.stage(key, stagedValue{deleted: true})
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (tx *Tx) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.raw(key)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return tx.stage(key, stagedValue{data: encoded})
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.raw(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// KVKeys lists the keys under prefix, including staged writes.
func (tx *Tx) KVKeys(prefix []byte) ([][]byte, error) {
	committed, err := tx.db.Keys(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(committed)+len(tx.staged))
	keys := make([][]byte, 0, len(committed))
	for _, key := range committed {
		id := string(key)
		seen[id] = struct{}{}
		if staged, ok := tx.staged[id]; ok && staged.deleted {
			continue
		}
		keys = append(keys, key)
	}
	for id, staged := range tx.staged {
		if staged.deleted || !bytes.HasPrefix([]byte(id), prefix) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		keys = append(keys, []byte(id))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, nil
}

// Pending reports the number of staged writes.
func (tx *Tx) Pending() int {
	return len(tx.order)
}

func (tx *Tx) commit() error {
	if tx.readOnly || len(tx.order) == 0 {
		return nil
	}
	batch := tx.db.NewBatch()
	for _, id := range tx.order {
		staged := tx.staged[id]
		if staged.deleted {
			batch.Delete([]byte(id))
			continue
		}
		batch.Put([]byte(id), staged.data)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}
