package store

import (
	"context"
	"encoding/binary"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrTableNotFound  = errors.New("table not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrIDTypeMismatch = errors.New("id type mismatch")
)

// IDKind 表中标识的存储类型，表创建后不再改变
type IDKind string

const (
	IDInteger IDKind = "integer"
	IDString  IDKind = "string"
)

func parseIDKind(s string) (IDKind, error) {
	switch IDKind(s) {
	case IDInteger, IDString:
		return IDKind(s), nil
	}
	return "", errors.Errorf("unknown id kind %q", s)
}

// Row 持久化的一行，ID 为 int64 或 string，Data 为编码后的属性
type Row struct {
	ID   any
	Data string
}

// Backend 表存储后端
//
// 传入的 id 已经按表的 IDKind 归一化为 int64 或 string。
// 整数序列从 1 开始，插入整数标识（或可解析为整数的字符串标识）时序列推进到不小于该值。
type Backend interface {
	// CreateTable 创建表，表已存在时直接返回
	CreateTable(ctx context.Context, table string, kind IDKind) error
	// Tables 返回所有表及其标识类型
	Tables(ctx context.Context) (map[string]IDKind, error)
	// NextID 返回序列的下一个值，不消耗序列
	NextID(ctx context.Context, table string) (int64, error)
	// Insert 插入一行，标识已存在时返回 ErrDuplicateKey
	Insert(ctx context.Context, table string, id any, data string) error
	// Update 替换一行，行不存在时返回 ErrRecordNotFound
	Update(ctx context.Context, table string, id any, data string) error
	// Get 读取一行，表或行不存在时 ok 为 false
	Get(ctx context.Context, table string, id any) (data string, ok bool, err error)
	// Scan 按标识升序返回所有行，表不存在时返回空
	Scan(ctx context.Context, table string) ([]Row, error)
	// Delete 删除一行，不存在时直接返回
	Delete(ctx context.Context, table string, id any) error
	// Reset 删除所有表
	Reset(ctx context.Context) error
	Close() error
}

// sequenceValue 返回标识对应的序列值
func sequenceValue(id any) (int64, bool) {
	switch v := id.(type) {
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// formatID 标识的文本形式，用于 redis field 等场景
func formatID(id any) string {
	switch v := id.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	}
	return ""
}

func parseID(kind IDKind, s string) (any, error) {
	if kind == IDInteger {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse integer id %q", s)
		}
		return n, nil
	}
	return s, nil
}

// encodeKey 整数编码为翻转符号位的大端序，字节序与数值序一致
func encodeKey(id any) []byte {
	switch v := id.(type) {
	case int64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
		return buf
	case string:
		return []byte(v)
	}
	return nil
}

func decodeKey(kind IDKind, key []byte) (any, error) {
	if kind == IDInteger {
		if len(key) != 8 {
			return nil, errors.Errorf("invalid integer key length %d", len(key))
		}
		return int64(binary.BigEndian.Uint64(key) ^ (1 << 63)), nil
	}
	return string(key), nil
}

func checkKind(kind IDKind, id any) error {
	switch id.(type) {
	case int64:
		if kind == IDInteger {
			return nil
		}
	case string:
		if kind == IDString {
			return nil
		}
	}
	return errors.Wrapf(ErrIDTypeMismatch, "id %v (%T) for %s table", id, id, kind)
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		switch a := rows[i].ID.(type) {
		case int64:
			b, _ := rows[j].ID.(int64)
			return a < b
		case string:
			b, _ := rows[j].ID.(string)
			return a < b
		}
		return false
	})
}

func sortedNames(tables map[string]IDKind) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
