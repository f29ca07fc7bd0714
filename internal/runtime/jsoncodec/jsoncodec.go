// Package jsoncodec encodes message bodies, envelopes and settings files with
// sonic, configured to behave like encoding/json.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Option adjusts a single Marshal call.
type Option func(*marshalOptions)

type marshalOptions struct {
	ignoreLoops bool
}

// IgnoreLoops makes Marshal write a reference back to one of its own
// ancestors as null instead of failing on the cycle.
func IgnoreLoops(enabled bool) Option {
	return func(o *marshalOptions) { o.ignoreLoops = enabled }
}

func Marshal(v any, opts ...Option) ([]byte, error) {
	var o marshalOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.ignoreLoops {
		return marshalIgnoringLoops(v)
	}
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
