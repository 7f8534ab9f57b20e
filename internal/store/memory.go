package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradeledger/internal/models"
)

// MemoryStore keeps everything in process memory. InTx works on a copy of
// the state and swaps it in on success, so failed units of work leave no
// trace. Units of work are serialized.
type MemoryStore struct {
	mu      sync.Mutex
	txMu    sync.Mutex
	cursors map[string]models.ChainCursor
	tracked map[string]models.TrackedAddress
	nextID  uint
	state   *ledgerState
}

type ledgerState struct {
	trades     map[string]models.TradeRecord
	tradeOrder []string
	lots       []models.Lot
	closes     []models.RealizedClose
	stats      map[string]models.AgentStats
	nextID     uint
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cursors: make(map[string]models.ChainCursor),
		tracked: make(map[string]models.TrackedAddress),
		state: &ledgerState{
			trades: make(map[string]models.TradeRecord),
			stats:  make(map[string]models.AgentStats),
		},
	}
}

func (s *MemoryStore) GetCursor(ctx context.Context, chain string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[chain]
	if !ok {
		return 0, ErrNotFound
	}
	return cur.LastBlock, nil
}

func (s *MemoryStore) AdvanceCursor(ctx context.Context, chain string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[chain]
	if ok && cur.LastBlock >= block {
		return nil
	}
	if !ok {
		s.nextID++
		cur = models.ChainCursor{ID: s.nextID, Chain: chain}
	}
	cur.LastBlock = block
	cur.UpdatedAt = time.Now()
	s.cursors[chain] = cur
	return nil
}

func (s *MemoryStore) ListCursors(ctx context.Context) ([]models.ChainCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChainCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out, nil
}

func trackedKey(chain, address string) string { return chain + "|" + address }

func (s *MemoryStore) ListTrackedAddresses(ctx context.Context) ([]models.TrackedAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TrackedAddress, 0, len(s.tracked))
	for _, a := range s.tracked {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertTrackedAddress(ctx context.Context, addr *models.TrackedAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := trackedKey(addr.Chain, addr.Address)
	now := time.Now()
	if cur, ok := s.tracked[k]; ok {
		cur.AgentID = addr.AgentID
		cur.UpdatedAt = now
		s.tracked[k] = cur
		*addr = cur
		return nil
	}
	s.nextID++
	addr.ID = s.nextID
	addr.CreatedAt = now
	addr.UpdatedAt = now
	s.tracked[k] = *addr
	return nil
}

func (s *MemoryStore) DeleteTrackedAddress(ctx context.Context, chain, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := trackedKey(chain, address)
	if _, ok := s.tracked[k]; !ok {
		return false, nil
	}
	delete(s.tracked, k)
	return true, nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := s.state.clone()
	s.mu.Unlock()

	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) TradeExists(ctx context.Context, naturalKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.trades[naturalKey]
	return ok, nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, agentID string, limit int) ([]models.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = normalizeLimit(limit, 100)
	var out []models.TradeRecord
	for i := len(s.state.tradeOrder) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.state.trades[s.state.tradeOrder[i]]
		if rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListLots(ctx context.Context, agentID string, openOnly bool) ([]models.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lot
	for _, l := range s.state.lots {
		if l.AgentID != agentID || (openOnly && l.Status != models.LotStatusOpen) {
			continue
		}
		out = append(out, l)
	}
	sortLots(out)
	return out, nil
}

func (s *MemoryStore) ListCloses(ctx context.Context, agentID string, limit int) ([]models.RealizedClose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = normalizeLimit(limit, 100)
	var out []models.RealizedClose
	for i := len(s.state.closes) - 1; i >= 0 && len(out) < limit; i-- {
		if s.state.closes[i].AgentID == agentID {
			out = append(out, s.state.closes[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAgentStats(ctx context.Context, agentID string) (*models.AgentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.stats[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (st *ledgerState) clone() *ledgerState {
	out := &ledgerState{
		trades:     make(map[string]models.TradeRecord, len(st.trades)),
		tradeOrder: append([]string(nil), st.tradeOrder...),
		lots:       append([]models.Lot(nil), st.lots...),
		closes:     append([]models.RealizedClose(nil), st.closes...),
		stats:      make(map[string]models.AgentStats, len(st.stats)),
		nextID:     st.nextID,
	}
	for k, v := range st.trades {
		out.trades[k] = v
	}
	for k, v := range st.stats {
		out.stats[k] = v
	}
	return out
}

func sortLots(lots []models.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].OpenedAt.Equal(lots[j].OpenedAt) {
			return lots[i].OpenedAt.Before(lots[j].OpenedAt)
		}
		return lots[i].ID < lots[j].ID
	})
}

type memoryTx struct {
	state *ledgerState
}

func (t *memoryTx) id() uint {
	t.state.nextID++
	return t.state.nextID
}

func (t *memoryTx) RecordTrade(ctx context.Context, rec *models.TradeRecord) (bool, error) {
	if _, ok := t.state.trades[rec.NaturalKey]; ok {
		return false, nil
	}
	rec.ID = t.id()
	rec.CreatedAt = time.Now()
	t.state.trades[rec.NaturalKey] = *rec
	t.state.tradeOrder = append(t.state.tradeOrder, rec.NaturalKey)
	return true, nil
}

func (t *memoryTx) OpenLots(ctx context.Context, agentID, chain, token string) ([]models.Lot, error) {
	var out []models.Lot
	for _, l := range t.state.lots {
		if l.AgentID == agentID && l.Chain == chain && l.TokenAddress == token && l.Status == models.LotStatusOpen {
			out = append(out, l)
		}
	}
	sortLots(out)
	return out, nil
}

func (t *memoryTx) CreateLot(ctx context.Context, lot *models.Lot) error {
	lot.ID = t.id()
	lot.UpdatedAt = time.Now()
	t.state.lots = append(t.state.lots, *lot)
	return nil
}

func (t *memoryTx) UpdateLot(ctx context.Context, lot *models.Lot) error {
	for i := range t.state.lots {
		if t.state.lots[i].ID == lot.ID {
			lot.UpdatedAt = time.Now()
			t.state.lots[i] = *lot
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) CreateClose(ctx context.Context, c *models.RealizedClose) error {
	c.ID = t.id()
	t.state.closes = append(t.state.closes, *c)
	return nil
}

func (t *memoryTx) AgentCloses(ctx context.Context, agentID string) ([]models.RealizedClose, error) {
	var out []models.RealizedClose
	for _, c := range t.state.closes {
		if c.AgentID == agentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memoryTx) SaveAgentStats(ctx context.Context, stats *models.AgentStats) error {
	if cur, ok := t.state.stats[stats.AgentID]; ok {
		stats.ID = cur.ID
	} else {
		stats.ID = t.id()
	}
	stats.UpdatedAt = time.Now()
	t.state.stats[stats.AgentID] = *stats
	return nil
}
