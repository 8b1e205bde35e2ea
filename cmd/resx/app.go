package main

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/hatlonely/resx/cfg"
	"github.com/hatlonely/resx/controller"
	"github.com/hatlonely/resx/log"
	"github.com/hatlonely/resx/resource"
	"github.com/hatlonely/resx/store"
	"github.com/pkg/errors"
)

// Config 命令行配置文件
//
//	log:
//	  level: info
//	store:
//	  backend:
//	    type: sql
//	    sql:
//	      driver: sqlite3
//	      database: data/resx.db
//	resources:
//	  - name: users
//	    fields:
//	      name: {sortable: true}
//	fixtures: fixtures.yaml
type Config struct {
	Log       *log.Options           `cfg:"log"`
	Store     *store.Options         `cfg:"store"`
	Resources []*resource.Definition `cfg:"resources" validate:"dive"`
	// Fixtures 夹具文件，相对路径相对于配置文件所在目录
	Fixtures string `cfg:"fixtures"`
}

func loadConfig(path string) (*Config, error) {
	config := &Config{}
	if err := cfg.Load(path, config); err != nil {
		return nil, errors.WithMessagef(err, "load config %s failed", path)
	}
	if config.Fixtures != "" && !filepath.IsAbs(config.Fixtures) {
		config.Fixtures = filepath.Join(filepath.Dir(path), config.Fixtures)
	}
	return config, nil
}

type app struct {
	config      *Config
	logger      log.Logger
	store       *store.Store
	controllers map[string]*controller.Controller
}

func newApp(ctx context.Context, config *Config) (*app, error) {
	logger, err := log.NewLoggerWithOptions(config.Log)
	if err != nil {
		return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
	}

	resources, err := resource.BuildAll(config.Resources)
	if err != nil {
		return nil, errors.WithMessage(err, "resource.BuildAll failed")
	}

	s, err := store.NewStoreWithOptions(ctx, config.Store, logger)
	if err != nil {
		return nil, errors.WithMessage(err, "store.NewStoreWithOptions failed")
	}

	controllers := make(map[string]*controller.Controller, len(resources))
	for name, res := range resources {
		controllers[name] = controller.New(res, s, controller.WithLogger(logger))
	}

	return &app{
		config:      config,
		logger:      logger,
		store:       s,
		controllers: controllers,
	}, nil
}

func (a *app) controller(name string) (*controller.Controller, error) {
	c, ok := a.controllers[name]
	if !ok {
		names := make([]string, 0, len(a.controllers))
		for n := range a.controllers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, errors.Errorf("unknown resource %q, configured: %v", name, names)
	}
	return c, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
