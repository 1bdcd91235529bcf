package ledger

import (
	"sort"
	"strings"
	"sync"

	"github.com/meridianfi/reallocator/internal/types"
)

// MemoryRegistry is the in-process account store. A single mutex serializes
// transactions, matching the host model where conflicting instructions never
// interleave.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]any
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]any)}
}

func (r *MemoryRegistry) Update(fn func(Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		base:    r.records,
		writes:  make(map[string]any),
		deletes: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for key := range tx.deletes {
		delete(r.records, key)
	}
	for key, record := range tx.writes {
		r.records[key] = record
	}
	return nil
}

func (r *MemoryRegistry) View(fn func(Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		base:    r.records,
		writes:  make(map[string]any),
		deletes: make(map[string]struct{}),
	}
	return fn(tx)
}

// memTx stages writes in an overlay over the committed records. All account
// types are plain value structs, so assignment is a deep copy.
type memTx struct {
	base    map[string]any
	writes  map[string]any
	deletes map[string]struct{}
}

func (tx *memTx) get(key string) (any, bool) {
	if _, gone := tx.deletes[key]; gone {
		return nil, false
	}
	if record, ok := tx.writes[key]; ok {
		return record, true
	}
	record, ok := tx.base[key]
	return record, ok
}

func (tx *memTx) put(key string, record any) {
	delete(tx.deletes, key)
	tx.writes[key] = record
}

func (tx *memTx) Protocol() (types.ProtocolAuthority, bool) {
	record, ok := tx.get(protocolKey)
	if !ok {
		return types.ProtocolAuthority{}, false
	}
	return record.(types.ProtocolAuthority), true
}

func (tx *memTx) PutProtocol(p types.ProtocolAuthority) {
	tx.put(protocolKey, p)
}

func (tx *memTx) User(owner types.Address) (types.UserMainAccount, bool) {
	record, ok := tx.get(userKey(owner))
	if !ok {
		return types.UserMainAccount{}, false
	}
	return record.(types.UserMainAccount), true
}

func (tx *memTx) PutUser(u types.UserMainAccount) {
	tx.put(userKey(u.Owner), u)
}

func (tx *memTx) Position(owner types.Address, positionID uint64) (types.Position, bool) {
	record, ok := tx.get(positionKey(owner, positionID))
	if !ok {
		return types.Position{}, false
	}
	return record.(types.Position), true
}

func (tx *memTx) PutPosition(p types.Position) {
	tx.put(positionKey(p.Owner, p.PositionID), p)
}

func (tx *memTx) DeletePosition(owner types.Address, positionID uint64) {
	key := positionKey(owner, positionID)
	delete(tx.writes, key)
	tx.deletes[key] = struct{}{}
}

func (tx *memTx) Positions() []types.Position {
	var positions []types.Position
	seen := make(map[string]struct{})

	collect := func(key string, record any) {
		if !strings.HasPrefix(key, "position/") {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		if _, gone := tx.deletes[key]; gone {
			return
		}
		seen[key] = struct{}{}
		positions = append(positions, record.(types.Position))
	}

	for key, record := range tx.writes {
		collect(key, record)
	}
	for key, record := range tx.base {
		if _, overridden := tx.writes[key]; overridden {
			continue
		}
		collect(key, record)
	}

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Owner != positions[j].Owner {
			return positions[i].Owner.String() < positions[j].Owner.String()
		}
		return positions[i].PositionID < positions[j].PositionID
	})
	return positions
}
