package resource

import "slices"

// Project 按 include/exclude 投影记录
//   - 标识字段总是保留
//   - schema 之外的字段总是丢弃
//   - deferred 字段只有出现在 include 中才保留
//   - exclude 中的字段被丢弃
func (r *Resource) Project(record map[string]any, include, exclude []string) map[string]any {
	out := make(map[string]any, len(record))
	for name, value := range record {
		field, ok := r.Schema[name]
		if !ok {
			continue
		}
		if field.Identifier {
			out[name] = value
			continue
		}
		if slices.Contains(exclude, name) {
			continue
		}
		if field.Deferred && !slices.Contains(include, name) {
			continue
		}
		out[name] = value
	}
	return out
}
