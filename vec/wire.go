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

package vec

import (
	"strings"

	"github.com/xtaci/vrudp/ioflow"
)

const (
	draftName    = "VEC_DRAFT"
	draftVersion = "0.8"

	// HandshakeMaxBytes is the 32-byte cap on the incoming VEC handshake
	// line before it must have completed or the channel aborts (spec §4.C).
	HandshakeMaxBytes = 32
)

// buildHello renders this side's handshake line: "VEC_DRAFT-0.8[-CODEC]\n".
func buildHello(codec string) []byte {
	s := draftName + "-" + draftVersion
	if codec != "" {
		s += "-" + codec
	}
	return []byte(s + "\n")
}

// parseHello validates an incoming handshake line (without the trailing
// newline) per spec §4.C: "Header is NAME-VERSION[-CODEC]\n; name must equal
// VEC_DRAFT; version must equal 0.8; version characters restricted to
// digits and '.'; codec (if present) must be non-empty and belong to the
// known codec set."
func parseHello(line string) (codec string, err error) {
	parts := strings.Split(line, "-")
	if len(parts) < 2 {
		return "", ioflow.ErrProtocolFail("malformed VEC handshake: missing version")
	}
	if parts[0] != draftName {
		return "", ioflow.ErrProtocolFail("malformed VEC handshake: bad name " + parts[0])
	}
	version := parts[1]
	for _, r := range version {
		if !(r >= '0' && r <= '9') && r != '.' {
			return "", ioflow.ErrProtocolFail("malformed VEC handshake: bad version characters")
		}
	}
	if version != draftVersion {
		return "", ioflow.ErrProtocolFail("unsupported VEC version " + version)
	}
	if len(parts) == 2 {
		return "", nil
	}
	codec = strings.Join(parts[2:], "-")
	if codec == "" {
		return "", ioflow.ErrProtocolFail("malformed VEC handshake: empty codec")
	}
	if _, ok := LookupCodec(codec); !ok {
		return "", ioflow.ErrProtocolFail("unknown VEC codec " + codec)
	}
	return codec, nil
}
