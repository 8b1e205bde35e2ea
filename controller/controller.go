// Package controller 在 Store 之上组合过滤、排序、分页和投影，实现资源的增删改查
package controller

import (
	"context"
	"strconv"
	"strings"

	"github.com/hatlonely/resx/log"
	"github.com/hatlonely/resx/query"
	"github.com/hatlonely/resx/resource"
	"github.com/hatlonely/resx/store"
	"github.com/pkg/errors"
)

var (
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrUnresolvedSubject  = errors.New("unresolved subject")
	ErrNotSortable        = errors.New("field is not sortable")
	ErrUnknownField       = errors.New("unknown field")
	ErrOperatorNotAllowed = errors.New("operator not allowed")
	ErrInvalidRequest     = errors.New("invalid request")
)

// 操作名
const (
	OperationQuery  = "query"
	OperationGet    = "get"
	OperationCreate = "create"
	OperationPut    = "put"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Result 操作结果
type Result = map[string]any

// Controller 绑定一个资源和一个 Store
type Controller struct {
	resource *resource.Resource
	store    *store.Store
	logger   log.Logger
}

type Option func(*Controller)

func WithLogger(logger log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func New(res *resource.Resource, s *store.Store, opts ...Option) *Controller {
	c := &Controller{resource: res, store: s}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	c.logger = c.logger.WithGroup("controller").With("resource", res.Name)
	return c
}

func (c *Controller) Resource() *resource.Resource {
	return c.resource
}

// Handle 按操作名分发，subject 为调用方通过 Acquire 解析出的记录
func (c *Controller) Handle(ctx context.Context, operation string, subject store.Record, payload map[string]any) (Result, error) {
	switch operation {
	case OperationQuery:
		return c.Query(ctx, payload)
	case OperationGet:
		return c.Get(ctx, subject, payload)
	case OperationCreate:
		return c.Create(ctx, payload)
	case OperationPut:
		return c.Put(ctx, subject, payload)
	case OperationUpdate:
		return c.Update(ctx, subject, payload)
	case OperationDelete:
		return c.Delete(ctx, subject)
	}
	return nil, errors.Wrapf(ErrUnknownOperation, "operation %q", operation)
}

// Query 过滤后计算 total，再排序、分页和投影
func (c *Controller) Query(ctx context.Context, payload map[string]any) (Result, error) {
	req, err := ParseRequest(payload)
	if err != nil {
		return nil, err
	}
	predicate, err := c.predicate(req.Query)
	if err != nil {
		return nil, err
	}
	keys, err := c.sortKeys(req.Sort)
	if err != nil {
		return nil, err
	}

	records, err := c.store.Query(ctx, c.resource.Name)
	if err != nil {
		return nil, errors.WithMessage(err, "store.Query failed")
	}
	if len(predicate) > 0 {
		records = query.Filter(records, predicate)
	}

	total := len(records)
	if req.Total {
		return Result{"total": total}, nil
	}

	if len(keys) > 0 {
		records = query.Sort(records, keys)
	}
	records = paginate(records, req.Offset, req.Limit)

	resources := make([]map[string]any, 0, len(records))
	for _, record := range records {
		resources = append(resources, c.resource.Project(record, req.Include, req.Exclude))
	}
	c.logger.DebugContext(ctx, "query", "total", total, "returned", len(resources))
	return Result{"resources": resources, "total": total}, nil
}

func (c *Controller) Get(ctx context.Context, subject store.Record, payload map[string]any) (Result, error) {
	if subject == nil {
		return nil, errors.Wrap(ErrUnresolvedSubject, "get")
	}
	req, err := ParseRequest(payload)
	if err != nil {
		return nil, err
	}
	return c.resource.Project(subject, req.Include, req.Exclude), nil
}

// Create 总是插入，payload 中的标识会被采用
func (c *Controller) Create(ctx context.Context, payload map[string]any) (Result, error) {
	id, err := c.store.Save(ctx, c.resource, copyRecord(payload), true)
	if err != nil {
		return nil, errors.WithMessage(err, "store.Save failed")
	}
	c.logger.DebugContext(ctx, "created", "id", id)
	return Result{"id": id}, nil
}

// Put subject 存在时合并后更新，否则插入 payload
func (c *Controller) Put(ctx context.Context, subject store.Record, payload map[string]any) (Result, error) {
	if subject == nil {
		return c.Create(ctx, payload)
	}
	return c.Update(ctx, subject, payload)
}

// Update 将 payload 合并到 subject 后整体保存，标识不变
func (c *Controller) Update(ctx context.Context, subject store.Record, payload map[string]any) (Result, error) {
	if subject == nil {
		return nil, errors.Wrap(ErrUnresolvedSubject, "update")
	}
	id, ok := subject[resource.IDField]
	if !ok || id == nil {
		return nil, errors.Wrap(ErrUnresolvedSubject, "update: subject has no id")
	}

	for k, v := range payload {
		if k != resource.IDField {
			subject[k] = v
		}
	}
	if _, err := c.store.Save(ctx, c.resource, subject, false); err != nil {
		return nil, errors.WithMessage(err, "store.Save failed")
	}
	c.logger.DebugContext(ctx, "updated", "id", id)
	return Result{"id": id}, nil
}

func (c *Controller) Delete(ctx context.Context, subject store.Record) (Result, error) {
	if subject == nil {
		return nil, errors.Wrap(ErrUnresolvedSubject, "delete")
	}
	id, ok := subject[resource.IDField]
	if !ok || id == nil {
		return nil, errors.Wrap(ErrUnresolvedSubject, "delete: subject has no id")
	}
	if err := c.store.Delete(ctx, c.resource.Name, id); err != nil {
		return nil, errors.WithMessage(err, "store.Delete failed")
	}
	c.logger.DebugContext(ctx, "deleted", "id", id)
	return Result{"id": id}, nil
}

// Acquire 解析外部传入的标识，先尝试按整数查找，再按原值查找，不存在时返回 nil
func (c *Controller) Acquire(ctx context.Context, raw any) (store.Record, error) {
	if s, ok := raw.(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			record, err := c.store.Get(ctx, c.resource.Name, n)
			if err != nil || record != nil {
				return record, err
			}
		}
	}
	return c.store.Get(ctx, c.resource.Name, raw)
}

// predicate 解析过滤条件，字段必须在 schema 中并允许对应的操作符
func (c *Controller) predicate(q map[string]any) (query.Predicate, error) {
	if len(q) == 0 {
		return nil, nil
	}
	predicate, err := query.ParsePredicate(q)
	if err != nil {
		return nil, err
	}
	for _, clause := range predicate {
		if _, ok := c.resource.Field(clause.Field); !ok {
			return nil, errors.Wrapf(ErrUnknownField, "%s.%s", c.resource.Name, clause.Field)
		}
		if !c.resource.AllowsOperator(clause.Field, clause.Operator) {
			return nil, errors.Wrapf(ErrOperatorNotAllowed, "%s.%s__%s", c.resource.Name, clause.Field, clause.Operator)
		}
	}
	return predicate, nil
}

func (c *Controller) sortKeys(tokens []string) ([]query.SortKey, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	keys, err := query.ParseSort(tokens)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if !c.resource.Sortable(key.Field) {
			return nil, errors.Wrapf(ErrNotSortable, "%s.%s", c.resource.Name, key.Field)
		}
	}
	return keys, nil
}

func copyRecord(payload map[string]any) store.Record {
	record := make(store.Record, len(payload))
	for k, v := range payload {
		record[k] = v
	}
	return record
}
