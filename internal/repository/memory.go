package repository

import (
	"context"
	"sync"

	"github.com/mmeshcher/lendpool/internal/ledger"
)

// MemoryStore хранит состояние леджера в памяти процесса.
// Операции сериализуются мьютексом; изменяющая операция работает с копией,
// которая заменяет текущее состояние только при успешном завершении.
type MemoryStore struct {
	mu    sync.RWMutex
	state *ledger.MemoryState
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: ledger.NewMemoryState()}
}

// Atomic выполняет fn над копией состояния и фиксирует её, если fn не вернула ошибку.
// Отмена ctx после начала fn фиксацию не отменяет.
func (m *MemoryStore) Atomic(ctx context.Context, fn TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := m.state.Clone()
	if err := fn(ctx, draft); err != nil {
		return err
	}
	m.state = draft
	return nil
}

// View выполняет fn над текущим состоянием. fn не должна его изменять.
func (m *MemoryStore) View(ctx context.Context, fn TxFunc) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, m.state)
}

// Close ничего не делает; метод нужен для общего интерфейса хранилищ.
func (m *MemoryStore) Close() error {
	return nil
}
