package store

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// orderedKV 有序键值存储的最小接口，leveldb 和 pebble 实现
type orderedKV interface {
	get(key []byte) ([]byte, bool, error)
	// write 原子写入，值为 nil 表示删除
	write(puts map[string][]byte) error
	// scan 按键升序遍历指定前缀
	scan(prefix []byte, fn func(key, value []byte) error) error
	close() error
}

// 键布局
//
//	m\x00<table>              -> IDKind
//	s\x00<table>              -> 序列，8 字节大端
//	r\x00<table>\x00<idkey>   -> data
const (
	metaPrefix = "m\x00"
	seqPrefix  = "s\x00"
	rowPrefix  = "r\x00"
)

func metaKey(table string) []byte { return []byte(metaPrefix + table) }
func seqKey(table string) []byte  { return []byte(seqPrefix + table) }
func rowPrefixOf(table string) []byte {
	return []byte(rowPrefix + table + "\x00")
}
func rowKey(table string, id any) []byte {
	return append(rowPrefixOf(table), encodeKey(id)...)
}

// kvBackend 基于有序键值存储的表后端
// 读改写由 mu 串行化，底层存储只需要保证单次 write 原子
type kvBackend struct {
	mu sync.RWMutex
	kv orderedKV
}

func (b *kvBackend) kind(table string) (IDKind, bool, error) {
	v, ok, err := b.kv.get(metaKey(table))
	if err != nil || !ok {
		return "", false, err
	}
	kind, err := parseIDKind(string(v))
	if err != nil {
		return "", false, err
	}
	return kind, true, nil
}

func (b *kvBackend) seq(table string) (int64, error) {
	v, ok, err := b.kv.get(seqKey(table))
	if err != nil || !ok {
		return 0, err
	}
	if len(v) != 8 {
		return 0, errors.Errorf("invalid sequence of %s", table)
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func (b *kvBackend) CreateTable(ctx context.Context, table string, kind IDKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok, err := b.kind(table)
	if err != nil || ok {
		return err
	}
	return b.kv.write(map[string][]byte{string(metaKey(table)): []byte(kind)})
}

func (b *kvBackend) Tables(ctx context.Context) (map[string]IDKind, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tables := map[string]IDKind{}
	err := b.kv.scan([]byte(metaPrefix), func(key, value []byte) error {
		kind, err := parseIDKind(string(value))
		if err != nil {
			return err
		}
		tables[string(key[len(metaPrefix):])] = kind
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "list tables failed")
	}
	return tables, nil
}

func (b *kvBackend) NextID(ctx context.Context, table string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok, err := b.kind(table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Wrapf(ErrTableNotFound, "table %s", table)
	}
	seq, err := b.seq(table)
	return seq + 1, err
}

func (b *kvBackend) Insert(ctx context.Context, table string, id any, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind, ok, err := b.kind(table)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrTableNotFound, "table %s", table)
	}
	if err := checkKind(kind, id); err != nil {
		return err
	}

	key := rowKey(table, id)
	if _, exists, err := b.kv.get(key); err != nil {
		return err
	} else if exists {
		return errors.Wrapf(ErrDuplicateKey, "table %s id %v", table, id)
	}

	puts := map[string][]byte{string(key): []byte(data)}
	if n, ok := sequenceValue(id); ok {
		seq, err := b.seq(table)
		if err != nil {
			return err
		}
		if n > seq {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(n))
			puts[string(seqKey(table))] = buf
		}
	}
	return b.kv.write(puts)
}

func (b *kvBackend) Update(ctx context.Context, table string, id any, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := rowKey(table, id)
	_, exists, err := b.kv.get(key)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(ErrRecordNotFound, "table %s id %v", table, id)
	}
	return b.kv.write(map[string][]byte{string(key): []byte(data)})
}

func (b *kvBackend) Get(ctx context.Context, table string, id any) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok, err := b.kv.get(rowKey(table, id))
	if err != nil || !ok {
		return "", false, err
	}
	return string(v), true, nil
}

func (b *kvBackend) Scan(ctx context.Context, table string) ([]Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	kind, ok, err := b.kind(table)
	if err != nil || !ok {
		return nil, err
	}

	prefix := rowPrefixOf(table)
	var rows []Row
	err = b.kv.scan(prefix, func(key, value []byte) error {
		id, err := decodeKey(kind, key[len(prefix):])
		if err != nil {
			return err
		}
		rows = append(rows, Row{ID: id, Data: string(value)})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "scan %s failed", table)
	}
	return rows, nil
}

func (b *kvBackend) Delete(ctx context.Context, table string, id any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.kv.write(map[string][]byte{string(rowKey(table, id)): nil})
}

func (b *kvBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	deletes := map[string][]byte{}
	for _, prefix := range []string{metaPrefix, seqPrefix, rowPrefix} {
		err := b.kv.scan([]byte(prefix), func(key, _ []byte) error {
			deletes[string(key)] = nil
			return nil
		})
		if err != nil {
			return err
		}
	}
	if len(deletes) == 0 {
		return nil
	}
	return b.kv.write(deletes)
}

func (b *kvBackend) Close() error {
	return b.kv.close()
}
