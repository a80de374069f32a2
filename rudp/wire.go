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

// Package rudp implements component D: a reliable byte transport over a
// single UDP socket to a single peer, authenticated with HMAC-SHA1 and
// congestion-controlled along the lines of RFC 2988/slow-start. Grounded on
// kcp-go/v5/sess.go's UDPSession, generalized from KCP's selective-repeat ACK
// model to this protocol's single cumulative stream-position ACK.
package rudp

import (
	"crypto/hmac"
	"crypto/sha1"

	"github.com/pkg/errors"
)

const (
	// FlagClose marks the last byte of the output stream.
	FlagClose = 0x80
	// FlagAckClose acknowledges the peer's closed stream.
	FlagAckClose = 0x40
	// FlagFail is a connection-level failure notification.
	FlagFail = 0x20
	flagMask = 0xe0

	// HMACSize is the fixed SHA-1 digest length appended to every datagram.
	HMACSize = 20

	// MaxDatagram is the IPv4 min-MTU budget: 576 - 60 IPv4 hdr - 8 UDP hdr.
	MaxDatagram = 516

	// MaxPayload bounds DATA: 516 - 1(flags) - 8(seq) - 8(ack) - 8(win) - 20(hmac).
	MaxPayload = MaxDatagram - 1 - 8 - 8 - 8 - HMACSize

	// HelloMessage is the literal 17-byte handshake payload.
	HelloMessage = "VUDPTransport-0.8"

	// HandshakeWindow is the fixed advertised window while only the
	// handshake is in flight (spec §4.D.2).
	HandshakeWindow = 128
)

// putUvarint renders a non-negative integer as a one-byte length prefix
// followed by that many big-endian octets (spec §4.D.1 "positive-integer
// network encoding"); zero encodes as a bare length byte 0.
func putUvarint(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, 0)
	}
	var tmp [8]byte
	n := 0
	for x := v; x > 0; x >>= 8 {
		tmp[n] = byte(x)
		n++
	}
	buf = append(buf, byte(n))
	for i := n - 1; i >= 0; i-- {
		buf = append(buf, tmp[i])
	}
	return buf
}

// getUvarint parses the encoding above, returning the value, bytes consumed,
// and false if buf does not hold a complete field.
func getUvarint(buf []byte) (uint64, int, bool) {
	if len(buf) < 1 {
		return 0, 0, false
	}
	l := int(buf[0])
	if l > 8 || len(buf) < 1+l {
		return 0, 0, false
	}
	var v uint64
	for i := 0; i < l; i++ {
		v = v<<8 | uint64(buf[1+i])
	}
	return v, 1 + l, true
}

// segmentHeader is a parsed, not-yet-authenticated datagram.
type segmentHeader struct {
	Flags byte
	Seq   uint64
	Ack   uint64
	Win   uint64
	Data  []byte
}

// encodeDatagram serializes hdr and appends the keyed HMAC-SHA1 of the
// serialized payload under key.
func encodeDatagram(hdr segmentHeader, key []byte) ([]byte, error) {
	if len(hdr.Data) > MaxPayload {
		return nil, errors.Errorf("rudp: payload %d exceeds max %d", len(hdr.Data), MaxPayload)
	}
	buf := make([]byte, 0, MaxDatagram)
	buf = append(buf, hdr.Flags)
	buf = putUvarint(buf, hdr.Seq)
	buf = putUvarint(buf, hdr.Ack)
	buf = putUvarint(buf, hdr.Win)
	buf = append(buf, hdr.Data...)
	if len(buf) > MaxDatagram-HMACSize {
		return nil, errors.Errorf("rudp: datagram too large before HMAC")
	}
	mac := computeHMAC(key, buf)
	buf = append(buf, mac...)
	return buf, nil
}

// computeHMAC returns the keyed HMAC-SHA1 of payload under key, matching the
// original's hmac_fun(secret, data) (spec §4.D.1).
func computeHMAC(key, payload []byte) []byte {
	h := hmac.New(sha1.New, key)
	h.Write(payload)
	return h.Sum(nil)
}

// decodeDatagram verifies the HMAC and parses a wire datagram. A datagram
// with length <= HMACSize, a bad HMAC, or an MTU overrun must be silently
// dropped (spec §4.D.1): this surfaces as (zero, false).
func decodeDatagram(raw []byte, key []byte) (segmentHeader, bool) {
	if len(raw) <= HMACSize || len(raw) > MaxDatagram {
		return segmentHeader{}, false
	}
	body := raw[:len(raw)-HMACSize]
	mac := raw[len(raw)-HMACSize:]
	want := computeHMAC(key, body)
	if !hmac.Equal(mac, want) {
		return segmentHeader{}, false
	}
	if len(body) < 1 {
		return segmentHeader{}, false
	}
	flags := body[0]
	rest := body[1:]
	seq, n, ok := getUvarint(rest)
	if !ok {
		return segmentHeader{}, false
	}
	rest = rest[n:]
	ack, n, ok := getUvarint(rest)
	if !ok {
		return segmentHeader{}, false
	}
	rest = rest[n:]
	win, n, ok := getUvarint(rest)
	if !ok {
		return segmentHeader{}, false
	}
	rest = rest[n:]
	return segmentHeader{Flags: flags, Seq: seq, Ack: ack, Win: win, Data: rest}, true
}

// sendKey/recvKey implement the role-asymmetric key ordering from spec
// §4.D.1: send_key = local∥peer, recv_key = peer∥local.
func sendKey(local, peer []byte) []byte {
	k := make([]byte, 0, len(local)+len(peer))
	k = append(k, local...)
	k = append(k, peer...)
	return k
}

func recvKey(local, peer []byte) []byte {
	k := make([]byte, 0, len(local)+len(peer))
	k = append(k, peer...)
	k = append(k, local...)
	return k
}
