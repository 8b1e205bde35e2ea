package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisBackendOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint"`

	// 集群节点的 host:port 地址列表，Endpoint 为空时使用
	Endpoints []string `cfg:"endpoints"`

	Username string `cfg:"username"`
	Password string `cfg:"password"`
	DB       int    `cfg:"db" def:"0"`

	// KeyPrefix 所有键的前缀，使用 hash tag 包裹，集群模式下所有键落在同一个 slot
	KeyPrefix string `cfg:"keyPrefix" def:"resx"`

	MaxRetries   int           `cfg:"maxRetries" def:"3"`
	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`
	PoolSize     int           `cfg:"poolSize" def:"100"`
}

// RedisBackend 表元数据存在一个 hash 中，每张表的行存在一个 hash 中，序列是一个计数键
//
//	{prefix}:tables        hash  table -> IDKind
//	{prefix}:seq:<table>   string
//	{prefix}:rows:<table>  hash  id -> data
type RedisBackend struct {
	client redis.UniversalClient
	prefix string

	mu sync.Mutex
}

func NewRedisBackendWithOptions(options *RedisBackendOptions) (*RedisBackend, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	var client redis.UniversalClient
	switch {
	case options.Endpoint != "":
		client = redis.NewClient(&redis.Options{
			Addr:         options.Endpoint,
			Username:     options.Username,
			Password:     options.Password,
			DB:           options.DB,
			MaxRetries:   options.MaxRetries,
			DialTimeout:  options.DialTimeout,
			ReadTimeout:  options.ReadTimeout,
			WriteTimeout: options.WriteTimeout,
			PoolSize:     options.PoolSize,
		})
	case len(options.Endpoints) > 0:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        options.Endpoints,
			Username:     options.Username,
			Password:     options.Password,
			MaxRetries:   options.MaxRetries,
			DialTimeout:  options.DialTimeout,
			ReadTimeout:  options.ReadTimeout,
			WriteTimeout: options.WriteTimeout,
			PoolSize:     options.PoolSize,
		})
	default:
		return nil, errors.New("endpoint or endpoints is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), options.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}

	prefix := options.KeyPrefix
	if prefix == "" {
		prefix = "resx"
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) tablesKey() string {
	return fmt.Sprintf("{%s}:tables", b.prefix)
}

func (b *RedisBackend) seqKey(table string) string {
	return fmt.Sprintf("{%s}:seq:%s", b.prefix, table)
}

func (b *RedisBackend) rowsKey(table string) string {
	return fmt.Sprintf("{%s}:rows:%s", b.prefix, table)
}

func (b *RedisBackend) kind(ctx context.Context, table string) (IDKind, bool, error) {
	v, err := b.client.HGet(ctx, b.tablesKey(), table).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis hget failed")
	}
	kind, err := parseIDKind(v)
	if err != nil {
		return "", false, err
	}
	return kind, true, nil
}

func (b *RedisBackend) seq(ctx context.Context, table string) (int64, error) {
	n, err := b.client.Get(ctx, b.seqKey(table)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, errors.Wrap(err, "redis get sequence failed")
}

func (b *RedisBackend) CreateTable(ctx context.Context, table string, kind IDKind) error {
	if err := b.client.HSetNX(ctx, b.tablesKey(), table, string(kind)).Err(); err != nil {
		return errors.Wrapf(err, "create table %s failed", table)
	}
	return nil
}

func (b *RedisBackend) Tables(ctx context.Context) (map[string]IDKind, error) {
	values, err := b.client.HGetAll(ctx, b.tablesKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis hgetall failed")
	}
	tables := make(map[string]IDKind, len(values))
	for name, v := range values {
		kind, err := parseIDKind(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "table %s", name)
		}
		tables[name] = kind
	}
	return tables, nil
}

func (b *RedisBackend) NextID(ctx context.Context, table string) (int64, error) {
	_, ok, err := b.kind(ctx, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Wrapf(ErrTableNotFound, "table %s", table)
	}
	seq, err := b.seq(ctx, table)
	return seq + 1, err
}

func (b *RedisBackend) Insert(ctx context.Context, table string, id any, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind, ok, err := b.kind(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrTableNotFound, "table %s", table)
	}
	if err := checkKind(kind, id); err != nil {
		return err
	}

	added, err := b.client.HSetNX(ctx, b.rowsKey(table), formatID(id), data).Result()
	if err != nil {
		return errors.Wrapf(err, "insert into %s failed", table)
	}
	if !added {
		return errors.Wrapf(ErrDuplicateKey, "table %s id %v", table, id)
	}

	if n, ok := sequenceValue(id); ok {
		seq, err := b.seq(ctx, table)
		if err != nil {
			return err
		}
		if n > seq {
			if err := b.client.Set(ctx, b.seqKey(table), n, 0).Err(); err != nil {
				return errors.Wrapf(err, "advance sequence of %s failed", table)
			}
		}
	}
	return nil
}

func (b *RedisBackend) Update(ctx context.Context, table string, id any, data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	field := formatID(id)
	exists, err := b.client.HExists(ctx, b.rowsKey(table), field).Result()
	if err != nil {
		return errors.Wrapf(err, "update %s failed", table)
	}
	if !exists {
		return errors.Wrapf(ErrRecordNotFound, "table %s id %v", table, id)
	}
	return errors.Wrapf(b.client.HSet(ctx, b.rowsKey(table), field, data).Err(), "update %s failed", table)
}

func (b *RedisBackend) Get(ctx context.Context, table string, id any) (string, bool, error) {
	data, err := b.client.HGet(ctx, b.rowsKey(table), formatID(id)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get from %s failed", table)
	}
	return data, true, nil
}

func (b *RedisBackend) Scan(ctx context.Context, table string) ([]Row, error) {
	kind, ok, err := b.kind(ctx, table)
	if err != nil || !ok {
		return nil, err
	}

	values, err := b.client.HGetAll(ctx, b.rowsKey(table)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s failed", table)
	}

	rows := make([]Row, 0, len(values))
	for field, data := range values {
		id, err := parseID(kind, field)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{ID: id, Data: data})
	}
	sortRows(rows)
	return rows, nil
}

func (b *RedisBackend) Delete(ctx context.Context, table string, id any) error {
	return errors.Wrapf(b.client.HDel(ctx, b.rowsKey(table), formatID(id)).Err(), "delete from %s failed", table)
}

func (b *RedisBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tables, err := b.Tables(ctx)
	if err != nil {
		return err
	}

	keys := []string{b.tablesKey()}
	for _, table := range sortedNames(tables) {
		keys = append(keys, b.rowsKey(table), b.seqKey(table))
	}
	return errors.Wrap(b.client.Del(ctx, keys...).Err(), "redis del failed")
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
