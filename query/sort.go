package query

import (
	"cmp"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidSort = errors.New("invalid sort key")

// SortKey 排序键，字段名后缀 "+" 为升序（默认），"-" 为降序
type SortKey struct {
	Field      string
	Descending bool
}

func (k SortKey) String() string {
	if k.Descending {
		return k.Field + "-"
	}
	return k.Field + "+"
}

func ParseSortKey(token string) (SortKey, error) {
	key := SortKey{Field: strings.TrimSpace(token)}
	switch {
	case strings.HasSuffix(key.Field, "-"):
		key.Field, key.Descending = strings.TrimSuffix(key.Field, "-"), true
	case strings.HasSuffix(key.Field, "+"):
		key.Field = strings.TrimSuffix(key.Field, "+")
	}
	if key.Field == "" {
		return SortKey{}, errors.Wrapf(ErrInvalidSort, "token %q", token)
	}
	return key, nil
}

func ParseSort(tokens []string) ([]SortKey, error) {
	keys := make([]SortKey, 0, len(tokens))
	for _, token := range tokens {
		key, err := ParseSortKey(token)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Sort 返回按 keys 稳定排序后的副本，缺失字段排在最前
func Sort[R ~map[string]any](records []R, keys []SortKey) []R {
	out := slices.Clone(records)
	if len(keys) == 0 {
		return out
	}

	slices.SortStableFunc(out, func(a, b R) int {
		for _, key := range keys {
			n := sortCompare(a[key.Field], b[key.Field])
			if key.Descending {
				n = -n
			}
			if n != 0 {
				return n
			}
		}
		return 0
	})
	return out
}

// sortCompare 同类值按自然顺序，不同类值按类型顺序，无法比较的视为相等
func sortCompare(a, b any) int {
	if n, ok := Compare(a, b); ok {
		return n
	}
	return cmp.Compare(kindOf(a), kindOf(b))
}
