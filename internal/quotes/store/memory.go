package store

import (
	"context"
	"sync"

	"stockx.com/internal/quotes/model"
)

// Memory 没配数据库时用，也给测试用
type Memory struct {
	mu   sync.RWMutex
	rows map[string]model.Quote
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]model.Quote, 256)}
}

func (m *Memory) LoadInstrument(_ context.Context, symbol string) (model.Quote, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.rows[symbol]
	return q, ok, nil
}

func (m *Memory) SaveInstrument(_ context.Context, q model.Quote) error {
	q.Tier = model.TierNone
	m.mu.Lock()
	m.rows[q.Symbol] = q
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
