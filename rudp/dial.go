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

package rudp

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/xtaci/vrudp/reactor"
)

// Dial opens a UDP socket to addr and wraps it as a Transport, one
// Transport per connected socket. This is the single-peer analog of
// kcp-go's DialWithOptions; multi-peer demuxing (one socket, many peers)
// belongs to a Listener built on NewTransport + Feed instead.
func Dial(r *reactor.Reactor, addr string, cfg Config) (*Transport, error) {
	if cfg.Filter == nil {
		cfg.Filter = allowAllFilter{}
	}
	if !cfg.Filter.AllowPeer(addr) {
		return nil, errors.Errorf("rudp: peer %s rejected by filter", addr)
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "rudp dial")
	}
	if cfg.DSCP > 0 {
		_ = ipv4.NewConn(conn).SetTOS(cfg.DSCP << 2)
	}
	t := NewTransport(r, cfg, func(pkt []byte) error {
		_, err := conn.Write(pkt)
		return err
	})
	go readLoop(conn, t)
	return t, nil
}

func readLoop(conn net.Conn, t *Transport) {
	buf := make([]byte, MaxDatagram+64)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.Feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
