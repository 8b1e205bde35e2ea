// Package uid 生成资源的唯一标识
package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/hatlonely/resx/cfg"
	"github.com/pkg/errors"
)

// Generator 生成字符串 ID 的接口
type Generator interface {
	Generate() (string, error)
}

type UUIDOptions struct {
	Version string `cfg:"version" def:"v4" validate:"oneof=v1 v4 v6 v7"`
	// Compact 为 true 时去掉连字符，输出 32 位十六进制
	Compact bool `cfg:"compact"`
}

type UUIDGenerator struct {
	newUUID func() (uuid.UUID, error)
	compact bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) (*UUIDGenerator, error) {
	if options == nil {
		options = &UUIDOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.Validate failed")
	}

	g := &UUIDGenerator{compact: options.Compact}
	switch options.Version {
	case "v1":
		g.newUUID = uuid.NewUUID
	case "v6":
		g.newUUID = uuid.NewV6
	case "v7":
		g.newUUID = uuid.NewV7
	default:
		g.newUUID = uuid.NewRandom
	}
	return g, nil
}

func (g *UUIDGenerator) Generate() (string, error) {
	u, err := g.newUUID()
	if err != nil {
		return "", errors.Wrap(err, "generate uuid failed")
	}
	if g.compact {
		return hex.EncodeToString(u[:]), nil
	}
	return u.String(), nil
}
