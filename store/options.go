package store

import (
	"context"

	"github.com/hatlonely/resx/cfg"
	"github.com/hatlonely/resx/log"
	"github.com/hatlonely/resx/uid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// BackendOptions 按 Type 选择后端，只需要填写对应类型的配置
//
//	type: bolt
//	bolt:
//	  dbPath: data/resx.db
type BackendOptions struct {
	Type    string                 `cfg:"type" def:"memory" validate:"oneof=memory sql bolt leveldb pebble redis"`
	SQL     *SQLBackendOptions     `cfg:"sql"`
	Bolt    *BoltBackendOptions    `cfg:"bolt"`
	LevelDB *LevelDBBackendOptions `cfg:"leveldb"`
	Pebble  *PebbleBackendOptions  `cfg:"pebble"`
	Redis   *RedisBackendOptions   `cfg:"redis"`
}

func NewBackendWithOptions(options *BackendOptions) (Backend, error) {
	if options == nil {
		options = &BackendOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.Validate failed")
	}

	switch options.Type {
	case "memory":
		return NewMemoryBackend(), nil
	case "sql":
		sqlOptions := options.SQL
		if sqlOptions == nil {
			sqlOptions = &SQLBackendOptions{}
			if err := cfg.SetDefaults(sqlOptions); err != nil {
				return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
			}
		}
		b, err := NewSQLBackendWithOptions(sqlOptions)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "bolt":
		if options.Bolt == nil {
			return nil, errors.New("bolt options is required")
		}
		b, err := NewBoltBackendWithOptions(options.Bolt)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "leveldb":
		if options.LevelDB == nil {
			return nil, errors.New("leveldb options is required")
		}
		return NewLevelDBBackendWithOptions(options.LevelDB)
	case "pebble":
		if options.Pebble == nil {
			return nil, errors.New("pebble options is required")
		}
		return NewPebbleBackendWithOptions(options.Pebble)
	case "redis":
		if options.Redis == nil {
			return nil, errors.New("redis options is required")
		}
		b, err := NewRedisBackendWithOptions(options.Redis)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, errors.Errorf("unsupported backend type %q", options.Type)
}

type Options struct {
	Backend *BackendOptions    `cfg:"backend"`
	UUID    *uid.UUIDOptions   `cfg:"uuid"`
	Cache   *CacheOptions      `cfg:"cache"`
	Observe *ObservableOptions `cfg:"observe"`
}

// NewStoreWithOptions 按配置创建后端，依次套上可选的缓存和观测装饰器，再创建 Store
func NewStoreWithOptions(ctx context.Context, options *Options, logger log.Logger) (*Store, error) {
	if options == nil {
		options = &Options{}
	}
	if logger == nil {
		logger = log.Default()
	}

	backend, err := NewBackendWithOptions(options.Backend)
	if err != nil {
		return nil, errors.WithMessage(err, "NewBackendWithOptions failed")
	}

	if options.Cache != nil {
		if err := cfg.SetDefaults(options.Cache); err != nil {
			_ = backend.Close()
			return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
		}
		cached, err := NewCachedBackendWithOptions(backend, options.Cache)
		if err != nil {
			_ = backend.Close()
			return nil, errors.WithMessage(err, "NewCachedBackendWithOptions failed")
		}
		backend = cached
	}

	if options.Observe != nil {
		obs, err := NewObservableBackendWithOptions(backend, options.Observe, logger, prometheus.DefaultRegisterer)
		if err != nil {
			_ = backend.Close()
			return nil, errors.WithMessage(err, "NewObservableBackendWithOptions failed")
		}
		backend = obs
	}

	generator, err := uid.NewUUIDGeneratorWithOptions(options.UUID)
	if err != nil {
		_ = backend.Close()
		return nil, errors.WithMessage(err, "uid.NewUUIDGeneratorWithOptions failed")
	}

	s, err := NewStore(ctx, backend, WithLogger(logger), WithGenerator(generator))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}
