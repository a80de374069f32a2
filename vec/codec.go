// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package vec implements component C: the entity-channel serializer that
// bridges a byte pipe to an entity pipe through a framed VEC_DRAFT handshake
// and a pluggable stream codec.
package vec

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"github.com/xtaci/vrudp/ioflow"
)

// Codec turns entities into wire bytes and back. Per spec §4.C the stream
// codec itself is "treated as opaque" by the channel; this module ships two
// concrete implementations and a lookup table keyed by the negotiated name.
type Codec interface {
	Name() string
	Marshal(v ioflow.Entity) ([]byte, error)
	Unmarshal(data []byte) (ioflow.Entity, error)
}

// utf8Codec treats every entity as a string and encodes it as raw UTF-8.
type utf8Codec struct{}

func (utf8Codec) Name() string { return "utf8" }

func (utf8Codec) Marshal(v ioflow.Entity) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errors.Errorf("utf8 codec cannot marshal %T", v)
	}
	return []byte(s), nil
}

func (utf8Codec) Unmarshal(data []byte) (ioflow.Entity, error) {
	return string(data), nil
}

// gobCodec carries arbitrary Go values via encoding/gob. No third-party
// entity codec in the retrieved pack fits this deliberately opaque,
// narrow slot (spec §4.C treats the codec as a black box); gob is stdlib
// and is the justified exception noted in DESIGN.md.
type gobCodec struct{}

func (gobCodec) Name() string { return "gob" }

func (gobCodec) Marshal(v ioflow.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, errors.Wrap(err, "gob marshal")
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte) (ioflow.Entity, error) {
	var v ioflow.Entity
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, errors.Wrap(err, "gob unmarshal")
	}
	return v, nil
}

// codecs is the known codec set referenced by spec §4.C's handshake rule:
// an announced codec must be non-empty and belong to this table.
var codecs = map[string]Codec{
	"utf8": utf8Codec{},
	"gob":  gobCodec{},
}

// LookupCodec returns the registered Codec for name, or false if unknown.
func LookupCodec(name string) (Codec, bool) {
	c, ok := codecs[name]
	return c, ok
}

// DefaultCodec is used when a channel is not configured with an explicit
// local codec to announce.
var DefaultCodec Codec = gobCodec{}
