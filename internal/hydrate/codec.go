// Package hydrate encodes store values for byte-oriented backends and decodes
// them back into the shapes the store holds: maps, []any, strings, bools,
// int for integral numbers and float64 otherwise.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Context identifies the value being encoded or decoded.
type Context struct {
	Key        string
	VariableID string
}

// Hook lets callers adjust a value before encoding or after decoding.
type Hook func(Context, any) (any, error)

// Option configures a Codec.
type Option func(*Codec)

// Codec converts store values to and from JSON payloads.
type Codec struct {
	encodeHooks  []Hook
	decodeHooks  []Hook
	configureDec []func(*json.Decoder)
}

// WithEncodeHook applies hook before encoding.
func WithEncodeHook(hook Hook) Option {
	return func(c *Codec) {
		if hook != nil {
			c.encodeHooks = append(c.encodeHooks, hook)
		}
	}
}

// WithDecodeHook applies hook after decoding and number normalization.
func WithDecodeHook(hook Hook) Option {
	return func(c *Codec) {
		if hook != nil {
			c.decodeHooks = append(c.decodeHooks, hook)
		}
	}
}

// WithDecoderConfig allows callers to configure the json.Decoder directly.
func WithDecoderConfig(configure func(*json.Decoder)) Option {
	return func(c *Codec) {
		if configure != nil {
			c.configureDec = append(c.configureDec, configure)
		}
	}
}

// NewCodec returns a Codec with opts applied.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Encode marshals value after running encode hooks.
func (c *Codec) Encode(ctx Context, value any) ([]byte, error) {
	current := value
	for _, hook := range c.encodeHooks {
		next, err := hook(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("hydrate: encode hook for key %q failed: %w", ctx.Key, err)
		}
		current = next
	}
	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("hydrate: encode key %q: %w", ctx.Key, err)
	}
	return data, nil
}

// Decode unmarshals data, normalizes numbers and runs decode hooks.
func (c *Codec) Decode(ctx Context, data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("hydrate: payload is empty for key %q", ctx.Key)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	for _, configure := range c.configureDec {
		configure(decoder)
	}
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("hydrate: decode key %q: %w", ctx.Key, err)
	}
	current := Normalize(raw)
	for _, hook := range c.decodeHooks {
		next, err := hook(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("hydrate: decode hook for key %q failed: %w", ctx.Key, err)
		}
		current = next
	}
	return current, nil
}

// DecodeRecord decodes a JSON object. Non-object payloads are an error.
func (c *Codec) DecodeRecord(ctx Context, data []byte) (map[string]any, error) {
	value, err := c.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	record, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("hydrate: key %q holds %T, not an object", ctx.Key, value)
	}
	return record, nil
}

// Normalize walks value converting json.Number and integral float64 values to
// int, and remaining numbers to float64.
func Normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = Normalize(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = Normalize(item)
		}
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil && n >= math.MinInt && n <= math.MaxInt {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int(v)
		}
		return v
	default:
		return value
	}
}

// Default is the codec used when callers do not configure one.
var Default = NewCodec()
