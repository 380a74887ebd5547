package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const codecVersion = 1

const (
	kindStandardScaler = "standard_scaler"
	kindPCA            = "pca"
	kindSoftmax        = "softmax"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder = newEncoder()
	decoder = newDecoder()
)

// newEncoder and newDecoder only fail on invalid options.
func newEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	return enc
}

func newDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
	return dec
}

type envelope struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Scaler  *StandardScaler `json:"scaler,omitempty"`
	PCA     *PCA            `json:"pca,omitempty"`
	Softmax *Softmax        `json:"softmax,omitempty"`
}

// Marshal encodes an artifact as JSON, zstd-compressed when compress is set.
func Marshal(v any, compress bool) ([]byte, error) {
	env := envelope{Version: codecVersion}
	switch a := v.(type) {
	case *StandardScaler:
		env.Kind, env.Scaler = kindStandardScaler, a
	case *PCA:
		env.Kind, env.PCA = kindPCA, a
	case *Softmax:
		env.Kind, env.Softmax = kindSoftmax, a
	default:
		return nil, fmt.Errorf("marshal artifact: unsupported type %T", v)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	if compress {
		return encoder.EncodeAll(data, nil), nil
	}
	return data, nil
}

// Unmarshal decodes an artifact written by Marshal. Compressed and plain
// payloads are both accepted.
func Unmarshal(data []byte) (any, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress artifact: %w", err)
		}
		data = plain
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("decode artifact: unsupported version %d", env.Version)
	}

	switch env.Kind {
	case kindStandardScaler:
		if env.Scaler == nil || len(env.Scaler.Mean) != len(env.Scaler.Scale) {
			return nil, fmt.Errorf("decode artifact: malformed %s", env.Kind)
		}
		return env.Scaler, nil
	case kindPCA:
		if env.PCA == nil {
			return nil, fmt.Errorf("decode artifact: malformed %s", env.Kind)
		}
		for _, c := range env.PCA.Components {
			if len(c) != len(env.PCA.Mean) {
				return nil, fmt.Errorf("decode artifact: malformed %s", env.Kind)
			}
		}
		return env.PCA, nil
	case kindSoftmax:
		if env.Softmax == nil || len(env.Softmax.Weights) != len(env.Softmax.Bias) {
			return nil, fmt.Errorf("decode artifact: malformed %s", env.Kind)
		}
		for _, w := range env.Softmax.Weights {
			if len(w) != len(env.Softmax.Weights[0]) {
				return nil, fmt.Errorf("decode artifact: malformed %s", env.Kind)
			}
		}
		return env.Softmax, nil
	default:
		return nil, fmt.Errorf("decode artifact: unknown kind %q", env.Kind)
	}
}
