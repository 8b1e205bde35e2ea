package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/resx/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics"`

	// EnableLogging 是否启用日志记录
	EnableLogging bool `cfg:"enableLogging"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing"`

	// Name 组件名称，作为指标名前缀、日志的 component 字段和 span 的 component 属性
	Name string `cfg:"name" def:"resx_store" validate:"required"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
}

// NewObservableMetrics 创建指标并注册到 registerer，同名指标已注册时复用已有的
func NewObservableMetrics(name string, registerer prometheus.Registerer) (*ObservableMetrics, error) {
	operationCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: name + "_operations_total",
			Help: "Total number of backend operations",
		},
		[]string{"operation", "table", "status"},
	)
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    name + "_operation_duration_seconds",
			Help:    "Duration of backend operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)
	activeOperations := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name + "_active_operations",
			Help: "Number of active backend operations",
		},
		[]string{"operation"},
	)

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	var err error
	metrics := &ObservableMetrics{}
	if metrics.operationCounter, err = register(registerer, operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(registerer, operationDuration); err != nil {
		return nil, err
	}
	if metrics.activeOperations, err = register(registerer, activeOperations); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "prometheus register failed")
	}
	return c, nil
}

// ObservableBackend 装饰器，为任意 Backend 添加指标、日志和追踪
type ObservableBackend struct {
	backend Backend

	logger        log.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableBackendWithOptions(backend Backend, options *ObservableOptions, logger log.Logger, registerer prometheus.Registerer) (*ObservableBackend, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if options.Name == "" {
		options.Name = "resx_store"
	}

	obs := &ObservableBackend{
		backend:       backend,
		name:          options.Name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		if logger == nil {
			logger = log.Default()
		}
		obs.logger = logger.WithGroup("observableBackend")
	}

	if options.EnableMetrics {
		metrics, err := NewObservableMetrics(options.Name, registerer)
		if err != nil {
			return nil, errors.WithMessage(err, "NewObservableMetrics failed")
		}
		obs.metrics = metrics
	}

	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("store.%s", options.Name))
	}

	return obs, nil
}

// observe 统一的操作观测逻辑
func (obs *ObservableBackend) observe(ctx context.Context, operation string, table string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("store.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
				attribute.String("table", table),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_us", duration.Microseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, table, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "backend operation failed",
				"component", obs.name,
				"operation", operation,
				"table", table,
				"duration_us", duration.Microseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.DebugContext(ctx, "backend operation completed",
				"component", obs.name,
				"operation", operation,
				"table", table,
				"duration_us", duration.Microseconds(),
			)
		}
	}

	return err
}

func (obs *ObservableBackend) CreateTable(ctx context.Context, table string, kind IDKind) error {
	return obs.observe(ctx, "CreateTable", table, func(ctx context.Context) error {
		return obs.backend.CreateTable(ctx, table, kind)
	})
}

func (obs *ObservableBackend) Tables(ctx context.Context) (map[string]IDKind, error) {
	var tables map[string]IDKind
	err := obs.observe(ctx, "Tables", "", func(ctx context.Context) error {
		var err error
		tables, err = obs.backend.Tables(ctx)
		return err
	})
	return tables, err
}

func (obs *ObservableBackend) NextID(ctx context.Context, table string) (int64, error) {
	var next int64
	err := obs.observe(ctx, "NextID", table, func(ctx context.Context) error {
		var err error
		next, err = obs.backend.NextID(ctx, table)
		return err
	})
	return next, err
}

func (obs *ObservableBackend) Insert(ctx context.Context, table string, id any, data string) error {
	return obs.observe(ctx, "Insert", table, func(ctx context.Context) error {
		return obs.backend.Insert(ctx, table, id, data)
	})
}

func (obs *ObservableBackend) Update(ctx context.Context, table string, id any, data string) error {
	return obs.observe(ctx, "Update", table, func(ctx context.Context) error {
		return obs.backend.Update(ctx, table, id, data)
	})
}

func (obs *ObservableBackend) Get(ctx context.Context, table string, id any) (string, bool, error) {
	var data string
	var ok bool
	err := obs.observe(ctx, "Get", table, func(ctx context.Context) error {
		var err error
		data, ok, err = obs.backend.Get(ctx, table, id)
		return err
	})
	return data, ok, err
}

func (obs *ObservableBackend) Scan(ctx context.Context, table string) ([]Row, error) {
	var rows []Row
	err := obs.observe(ctx, "Scan", table, func(ctx context.Context) error {
		var err error
		rows, err = obs.backend.Scan(ctx, table)
		return err
	})
	return rows, err
}

func (obs *ObservableBackend) Delete(ctx context.Context, table string, id any) error {
	return obs.observe(ctx, "Delete", table, func(ctx context.Context) error {
		return obs.backend.Delete(ctx, table, id)
	})
}

func (obs *ObservableBackend) Reset(ctx context.Context) error {
	return obs.observe(ctx, "Reset", "", func(ctx context.Context) error {
		return obs.backend.Reset(ctx)
	})
}

func (obs *ObservableBackend) Close() error {
	return obs.backend.Close()
}
