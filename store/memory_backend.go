package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type memoryTable struct {
	kind IDKind
	seq  int64
	rows map[any]string
}

// MemoryBackend 进程内存后端，进程退出后数据丢失
type MemoryBackend struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: map[string]*memoryTable{}}
}

func (b *MemoryBackend) CreateTable(ctx context.Context, table string, kind IDKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tables[table]; !ok {
		b.tables[table] = &memoryTable{kind: kind, rows: map[any]string{}}
	}
	return nil
}

func (b *MemoryBackend) Tables(ctx context.Context) (map[string]IDKind, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tables := make(map[string]IDKind, len(b.tables))
	for name, t := range b.tables {
		tables[name] = t.kind
	}
	return tables, nil
}

func (b *MemoryBackend) NextID(ctx context.Context, table string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tables[table]
	if !ok {
		return 0, errors.Wrapf(ErrTableNotFound, "table %s", table)
	}
	return t.seq + 1, nil
}

func (b *MemoryBackend) Insert(ctx context.Context, table string, id any, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tables[table]
	if !ok {
		return errors.Wrapf(ErrTableNotFound, "table %s", table)
	}
	if err := checkKind(t.kind, id); err != nil {
		return err
	}
	if _, ok := t.rows[id]; ok {
		return errors.Wrapf(ErrDuplicateKey, "table %s id %v", table, id)
	}

	t.rows[id] = data
	if n, ok := sequenceValue(id); ok && n > t.seq {
		t.seq = n
	}
	return nil
}

func (b *MemoryBackend) Update(ctx context.Context, table string, id any, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tables[table]
	if !ok {
		return errors.Wrapf(ErrRecordNotFound, "table %s id %v", table, id)
	}
	if _, ok := t.rows[id]; !ok {
		return errors.Wrapf(ErrRecordNotFound, "table %s id %v", table, id)
	}
	t.rows[id] = data
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, table string, id any) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tables[table]
	if !ok {
		return "", false, nil
	}
	data, ok := t.rows[id]
	return data, ok, nil
}

func (b *MemoryBackend) Scan(ctx context.Context, table string) ([]Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tables[table]
	if !ok {
		return nil, nil
	}
	rows := make([]Row, 0, len(t.rows))
	for id, data := range t.rows {
		rows = append(rows, Row{ID: id, Data: data})
	}
	sortRows(rows)
	return rows, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, table string, id any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.tables[table]; ok {
		delete(t.rows, id)
	}
	return nil
}

func (b *MemoryBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tables = map[string]*memoryTable{}
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
