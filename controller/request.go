package controller

import (
	"github.com/hatlonely/resx/cfg"
	"github.com/pkg/errors"
)

// Request query 和 get 操作识别的参数
//
//	query:   {"age__gte": 21, "name__iprefix": "a"}
//	sort:    ["age-", "name"]
//	offset:  0
//	limit:   10
//	total:   false
//	include: ["bio"]
//	exclude: ["email"]
type Request struct {
	Query   map[string]any `cfg:"query"`
	Sort    []string       `cfg:"sort"`
	Offset  *int           `cfg:"offset" validate:"omitempty,min=0"`
	Limit   *int           `cfg:"limit" validate:"omitempty,min=0"`
	Total   bool           `cfg:"total"`
	Include []string       `cfg:"include"`
	Exclude []string       `cfg:"exclude"`
}

// ParseRequest 解析请求参数，数字和布尔值允许以字符串形式传入，sort 等列表允许逗号分隔的字符串
func ParseRequest(payload map[string]any) (*Request, error) {
	req := &Request{}
	if len(payload) == 0 {
		return req, nil
	}
	if err := cfg.Decode(payload, req); err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	return req, nil
}

// paginate offset 超出范围时返回空，limit 没有上限
func paginate[T any](items []T, offset, limit *int) []T {
	if offset != nil {
		if *offset >= len(items) {
			return items[:0]
		}
		items = items[*offset:]
	}
	if limit != nil && *limit < len(items) {
		items = items[:*limit]
	}
	return items
}
