package cfg

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// 支持的配置格式
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJSON = "json"
	FormatINI  = "ini"
)

var ErrUnsupportedFormat = errors.New("unsupported config format")

// Load 读取配置文件并填充到 v 中
// 格式由文件扩展名决定，解码后依次设置 def 默认值并做 validate 校验
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "os.ReadFile failed. path: %s", path)
	}

	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	return LoadBytes(data, format, v)
}

// LoadBytes 按指定格式解析配置数据
func LoadBytes(data []byte, format string, v any) error {
	tree, err := unmarshal(data, format)
	if err != nil {
		return err
	}

	return Decode(tree, v)
}

// floatToIntegerHookFunc 浮点数只有为整数值时才能赋给整数字段，避免 1.7 被截断为 1
func floatToIntegerHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Float32 && from.Kind() != reflect.Float64 {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return data, nil
		}
		f := reflect.ValueOf(data).Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, errors.Errorf("%v is not an integer", data)
		}
		return data, nil
	}
}

// Decode 将 map 形式的配置映射到结构体，字段名取 cfg tag
func Decode(input any, v any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		Result:           v,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			floatToIntegerHookFunc(),
		),
	})
	if err != nil {
		return errors.Wrap(err, "mapstructure.NewDecoder failed")
	}

	if input != nil {
		if err := decoder.Decode(input); err != nil {
			return errors.Wrap(err, "decode config failed")
		}
	}

	if err := SetDefaults(v); err != nil {
		return errors.WithMessage(err, "SetDefaults failed")
	}

	return Validate(v)
}

// FormatOf 根据文件扩展名推断配置格式
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	case ".ini":
		return FormatINI, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "path: %s", path)
}

func unmarshal(data []byte, format string) (map[string]any, error) {
	tree := map[string]any{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "yaml.Unmarshal failed")
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "toml.Unmarshal failed")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
	case FormatINI:
		file, err := ini.LoadSources(ini.LoadOptions{
			AllowBooleanKeys:         true,
			SpaceBeforeInlineComment: true,
		}, data)
		if err != nil {
			return nil, errors.Wrap(err, "ini.LoadSources failed")
		}
		iniTree(file, tree)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "format: %s", format)
	}

	return tree, nil
}

// iniTree 将 ini 转换为嵌套 map，section 名中的 "." 表示层级
//
//	[store.backend]
//	type = bolt
func iniTree(file *ini.File, tree map[string]any) {
	for _, section := range file.Sections() {
		node := tree
		if name := section.Name(); name != ini.DefaultSection {
			for _, part := range strings.Split(name, ".") {
				child, ok := node[part].(map[string]any)
				if !ok {
					child = map[string]any{}
					node[part] = child
				}
				node = child
			}
		}
		for _, key := range section.Keys() {
			node[key.Name()] = key.String()
		}
	}
}
