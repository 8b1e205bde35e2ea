// Package store 按资源分表保存记录
//
// Store 在 Backend 之上维护已知表集合、标识分配和编解码，所有写操作在同一把锁内完成，
// 保证并发创建时不会分配出重复的标识。
package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/hatlonely/resx/codec"
	"github.com/hatlonely/resx/log"
	"github.com/hatlonely/resx/resource"
	"github.com/hatlonely/resx/uid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidTable   = errors.New("invalid table name")
	ErrInvalidFixture = errors.New("invalid fixture")
	ErrInvalidRecord  = errors.New("invalid record")

	// ErrSequenceExhausted 整数序列已到 int64 上限
	ErrSequenceExhausted = errors.New("sequence exhausted")
)

// FixtureResourceKey 夹具中资源名所在的键，入库前会被去掉
const FixtureResourceKey = "resource"

var tablePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Record 一条记录，标识在 resource.IDField 下
type Record = map[string]any

type Store struct {
	mu      sync.RWMutex
	backend Backend
	codec   codec.Codec
	uuid    uid.Generator
	logger  log.Logger

	// tables 已知的表及其标识类型，只在 Reset 时清空
	tables map[string]IDKind
}

type Option func(*Store)

func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithCodec(c codec.Codec) Option {
	return func(s *Store) { s.codec = c }
}

func WithGenerator(g uid.Generator) Option {
	return func(s *Store) { s.uuid = g }
}

// NewStore 创建 Store，并从 backend 中加载已有的表
func NewStore(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}

	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		s.codec = codec.NewJSONCodec()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.uuid == nil {
		g, err := uid.NewUUIDGeneratorWithOptions(nil)
		if err != nil {
			return nil, errors.WithMessage(err, "uid.NewUUIDGeneratorWithOptions failed")
		}
		s.uuid = g
	}
	s.logger = s.logger.WithGroup("store")

	tables, err := backend.Tables(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "backend.Tables failed")
	}
	s.tables = tables
	return s, nil
}

func (s *Store) Backend() Backend {
	return s.backend
}

// Tables 返回已知表名，按字典序
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNames(s.tables)
}

// Get 表或记录不存在时返回 nil, nil
func (s *Store) Get(ctx context.Context, table string, id any) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kind, ok := s.tables[table]
	if !ok {
		return nil, nil
	}
	key, ok := normalizeID(kind, id)
	if !ok {
		return nil, nil
	}

	data, ok, err := s.backend.Get(ctx, table, key)
	if err != nil {
		return nil, errors.WithMessagef(err, "get %s %v failed", table, key)
	}
	if !ok {
		return nil, nil
	}
	return s.decode(table, key, data)
}

// Query 按标识升序返回表中所有记录，表不存在时返回空
func (s *Store) Query(ctx context.Context, table string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tables[table]; !ok {
		return []Record{}, nil
	}

	rows, err := s.backend.Scan(ctx, table)
	if err != nil {
		return nil, errors.WithMessagef(err, "scan %s failed", table)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := s.decode(table, row.ID, row.Data)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Save 保存记录并返回其标识
//
// creating 为 true 或记录不带标识时插入，标识按以下顺序确定：
// 记录中的标识、uuid 类型资源生成新的 uuid、表的整数序列。
// 否则整体替换已有记录，记录不存在时返回 ErrRecordNotFound。
func (s *Store) Save(ctx context.Context, res *resource.Resource, record Record, creating bool) (any, error) {
	if res == nil {
		return nil, errors.New("resource is nil")
	}
	table := res.Name
	if !tablePattern.MatchString(table) {
		return nil, errors.Wrapf(ErrInvalidTable, "table %q", table)
	}

	id := record[resource.IDField]
	attrs := make(map[string]any, len(record))
	for k, v := range record {
		if k != resource.IDField {
			attrs[k] = v
		}
	}
	data, err := s.codec.Encode(attrs)
	if err != nil {
		return nil, errors.WithMessagef(err, "encode %s record failed", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kind, err := s.ensureTable(ctx, table, kindOf(id, res.IDType != resource.IDTypeInteger))
	if err != nil {
		return nil, err
	}

	if id != nil && !creating {
		key, ok := normalizeID(kind, id)
		if !ok {
			return nil, errors.Wrapf(ErrIDTypeMismatch, "table %s id %v", table, id)
		}
		if err := s.backend.Update(ctx, table, key, data); err != nil {
			return nil, errors.WithMessagef(err, "update %s failed", table)
		}
		s.logger.DebugContext(ctx, "record updated", "table", table, "id", key)
		return key, nil
	}

	key, err := s.assignID(ctx, res, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Insert(ctx, table, key, data); err != nil {
		return nil, errors.WithMessagef(err, "insert into %s failed", table)
	}
	s.logger.DebugContext(ctx, "record inserted", "table", table, "id", key)
	return key, nil
}

func (s *Store) assignID(ctx context.Context, res *resource.Resource, kind IDKind, id any) (any, error) {
	if id != nil {
		key, ok := normalizeID(kind, id)
		if !ok {
			return nil, errors.Wrapf(ErrIDTypeMismatch, "table %s id %v", res.Name, id)
		}
		return key, nil
	}

	if res.IDType == resource.IDTypeUUID {
		if kind != IDString {
			return nil, errors.Wrapf(ErrIDTypeMismatch, "table %s stores integer ids", res.Name)
		}
		return s.uuid.Generate()
	}

	next, err := s.backend.NextID(ctx, res.Name)
	if err != nil {
		return nil, errors.WithMessagef(err, "next id of %s failed", res.Name)
	}
	if next <= 0 {
		return nil, errors.Wrapf(ErrSequenceExhausted, "table %s", res.Name)
	}
	if kind == IDString {
		return strconv.FormatInt(next, 10), nil
	}
	return next, nil
}

// ensureTable 调用方需持有写锁
func (s *Store) ensureTable(ctx context.Context, table string, kind IDKind) (IDKind, error) {
	if known, ok := s.tables[table]; ok {
		return known, nil
	}
	if err := s.backend.CreateTable(ctx, table, kind); err != nil {
		return "", errors.WithMessagef(err, "create table %s failed", table)
	}
	s.tables[table] = kind
	s.logger.InfoContext(ctx, "table created", "table", table, "kind", kind)
	return kind, nil
}

// Delete 记录不存在时直接返回
func (s *Store) Delete(ctx context.Context, table string, id any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, ok := s.tables[table]
	if !ok {
		return nil
	}
	key, ok := normalizeID(kind, id)
	if !ok {
		return nil
	}
	if err := s.backend.Delete(ctx, table, key); err != nil {
		return errors.WithMessagef(err, "delete %s %v failed", table, key)
	}
	s.logger.DebugContext(ctx, "record deleted", "table", table, "id", key)
	return nil
}

// Load 批量写入带标识的夹具，每个夹具的 resource 字段指定表名
// 逐条写入，失败时已写入的记录不会回滚
func (s *Store) Load(ctx context.Context, fixtures []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, fixture := range fixtures {
		table, _ := fixture[FixtureResourceKey].(string)
		if !tablePattern.MatchString(table) {
			return errors.Wrapf(ErrInvalidFixture, "fixture %d: resource %v", i, fixture[FixtureResourceKey])
		}
		id, ok := fixture[resource.IDField]
		if !ok || id == nil {
			return errors.Wrapf(ErrInvalidFixture, "fixture %d: missing id", i)
		}

		attrs := make(map[string]any, len(fixture))
		for k, v := range fixture {
			if k != FixtureResourceKey && k != resource.IDField {
				attrs[k] = v
			}
		}
		data, err := s.codec.Encode(attrs)
		if err != nil {
			return errors.WithMessagef(err, "fixture %d", i)
		}

		kind, err := s.ensureTable(ctx, table, kindOf(id, false))
		if err != nil {
			return err
		}
		key, ok := normalizeID(kind, id)
		if !ok {
			return errors.Wrapf(ErrIDTypeMismatch, "fixture %d: table %s id %v", i, table, id)
		}
		if err := s.backend.Insert(ctx, table, key, data); err != nil {
			return errors.WithMessagef(err, "fixture %d", i)
		}
	}

	s.logger.InfoContext(ctx, "fixtures loaded", "count", len(fixtures))
	return nil
}

// LoadDocument 加载编码后的夹具列表
func (s *Store) LoadDocument(ctx context.Context, text string) error {
	value, err := s.codec.Decode(text)
	if err != nil {
		return errors.WithMessage(err, "decode fixtures failed")
	}
	fixtures, err := toFixtures(value)
	if err != nil {
		return err
	}
	return s.Load(ctx, fixtures)
}

// LoadFile 从文件加载夹具，.yaml/.yml 按 yaml 解析，其它按编码文本解析
func (s *Store) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "os.ReadFile failed. path: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var value any
		if err := yaml.Unmarshal(data, &value); err != nil {
			return errors.Wrapf(err, "yaml.Unmarshal failed. path: %s", path)
		}
		fixtures, err := toFixtures(value)
		if err != nil {
			return errors.WithMessagef(err, "path: %s", path)
		}
		return s.Load(ctx, fixtures)
	default:
		return errors.WithMessagef(s.LoadDocument(ctx, string(data)), "path: %s", path)
	}
}

func toFixtures(value any) ([]map[string]any, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidFixture, "expect a list, got %T", value)
	}
	fixtures := make([]map[string]any, 0, len(items))
	for i, item := range items {
		fixture, ok := item.(map[string]any)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidFixture, "fixture %d: expect a mapping, got %T", i, item)
		}
		fixtures = append(fixtures, fixture)
	}
	return fixtures, nil
}

// Reset 删除所有表
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Reset(ctx); err != nil {
		return errors.WithMessage(err, "backend.Reset failed")
	}
	s.tables = map[string]IDKind{}
	s.logger.InfoContext(ctx, "store reset")
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) decode(table string, id any, data string) (Record, error) {
	value, err := s.codec.Decode(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "decode %s %v failed", table, id)
	}
	record, ok := value.(map[string]any)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidRecord, "table %s id %v: %T", table, id, value)
	}
	record[resource.IDField] = id
	return record, nil
}
