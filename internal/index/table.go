package index

import (
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/quantfeed/compindex/internal/domain"
)

// tableShards is the number of lock shards in a SnapshotTable. Writes to
// different (symbol, exchange) keys rarely contend.
const tableShards = 16

type snapKey struct {
	symbol     string
	exchangeID int
}

type tableShard struct {
	mu    sync.RWMutex
	snaps map[snapKey]domain.ExchangeSnapshot
}

// SnapshotTable holds the latest normalized snapshot per (symbol, exchange)
// pair. Writes are last-writer-wins by local arrival order: an out-of-order
// snapshot from the same exchange overwrites unconditionally, matching the
// inbound stream semantics.
type SnapshotTable struct {
	shards [tableShards]tableShard
}

// NewSnapshotTable creates an empty SnapshotTable.
func NewSnapshotTable() *SnapshotTable {
	t := &SnapshotTable{}
	for i := range t.shards {
		t.shards[i].snaps = make(map[snapKey]domain.ExchangeSnapshot)
	}
	return t
}

func (t *SnapshotTable) shard(k snapKey) *tableShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.symbol))
	_, _ = h.Write([]byte(strconv.Itoa(k.exchangeID)))
	return &t.shards[h.Sum32()%tableShards]
}

// Put stores snap as the latest snapshot for its (symbol, exchange) pair,
// overwriting any previous entry.
func (t *SnapshotTable) Put(snap domain.ExchangeSnapshot) {
	k := snapKey{symbol: snap.Symbol, exchangeID: snap.ExchangeID}
	s := t.shard(k)
	s.mu.Lock()
	s.snaps[k] = snap
	s.mu.Unlock()
}

// Get returns the latest snapshot for the given pair and whether one exists.
func (t *SnapshotTable) Get(symbol string, exchangeID int) (domain.ExchangeSnapshot, bool) {
	k := snapKey{symbol: symbol, exchangeID: exchangeID}
	s := t.shard(k)
	s.mu.RLock()
	snap, ok := s.snaps[k]
	s.mu.RUnlock()
	return snap, ok
}
