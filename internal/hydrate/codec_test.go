package hydrate

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRoundTripNormalizesNumbers(t *testing.T) {
	codec := NewCodec()
	ctx := Context{Key: "theme", VariableID: "theme"}

	value := map[string]any{
		"count":  3,
		"ratio":  0.5,
		"tags":   []any{"a", 2},
		"nested": map[string]any{"big": 1 << 40},
	}
	data, err := codec.Encode(ctx, value)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := codec.Decode(ctx, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, value) {
		t.Fatalf("round trip mismatch:\nwant: %#v\n got: %#v", value, got)
	}
}

func TestDecodeScalars(t *testing.T) {
	cases := map[string]any{
		`"dark"`: "dark",
		`true`:   true,
		`null`:   nil,
		`42`:     42,
		`1.25`:   1.25,
	}
	for input, want := range cases {
		got, err := Default.Decode(Context{Key: "k"}, []byte(input))
		if err != nil {
			t.Fatalf("%s: %v", input, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: expected %#v got %#v", input, want, got)
		}
	}
}

func TestHooksRunInOrder(t *testing.T) {
	var seen []string
	codec := NewCodec(
		WithEncodeHook(func(ctx Context, v any) (any, error) {
			seen = append(seen, "encode:"+ctx.VariableID)
			return map[string]any{"wrapped": v}, nil
		}),
		WithDecodeHook(func(_ Context, v any) (any, error) {
			seen = append(seen, "decode")
			return v.(map[string]any)["wrapped"], nil
		}),
	)
	ctx := Context{Key: "k", VariableID: "theme"}
	data, err := codec.Encode(ctx, "dark")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := codec.Decode(ctx, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "dark" || strings.Join(seen, ",") != "encode:theme,decode" {
		t.Fatalf("unexpected result %v hooks %v", got, seen)
	}
}

func TestHookErrorsAreWrapped(t *testing.T) {
	boom := errors.New("boom")
	codec := NewCodec(WithEncodeHook(func(Context, any) (any, error) { return nil, boom }))
	_, err := codec.Encode(Context{Key: "k"}, 1)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), `key "k"`) {
		t.Fatalf("expected wrapped hook error, got %v", err)
	}
}

func TestDecodeRecordRejectsNonObjects(t *testing.T) {
	if _, err := Default.DecodeRecord(Context{Key: "k"}, []byte(`[1]`)); err == nil {
		t.Fatalf("expected error for array payload")
	}
	if _, err := Default.Decode(Context{Key: "k"}, nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	record, err := Default.DecodeRecord(Context{Key: "k"}, []byte(`{"n":1}`))
	if err != nil || record["n"] != 1 {
		t.Fatalf("unexpected record %v err %v", record, err)
	}
}

func TestDecoderConfig(t *testing.T) {
	codec := NewCodec(WithDecoderConfig(func(dec *json.Decoder) { dec.DisallowUnknownFields() }))
	if _, err := codec.Decode(Context{Key: "k"}, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("unknown fields only apply to structs: %v", err)
	}
}
