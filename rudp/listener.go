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
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/xtaci/vrudp/reactor"
)

// Listener demultiplexes one UDP socket across many peer Transports keyed
// by remote address, the multi-session analog of kcp-go's Listener (its
// sessions map + packetInput dispatch), generalized to this spec's
// single-peer-per-Transport model.
type Listener struct {
	conn   *net.UDPConn
	r      *reactor.Reactor
	cfg    Config
	accept chan *Transport

	mu    sync.Mutex
	peers map[string]*Transport

	closed bool
}

// Listen opens a UDP listener and starts demuxing incoming datagrams into
// per-peer Transports, delivered through Accept.
func Listen(r *reactor.Reactor, laddr string, cfg Config) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "rudp listen: resolve")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "rudp listen")
	}
	if cfg.DSCP > 0 {
		_ = ipv4.NewConn(conn).SetTOS(cfg.DSCP << 2)
	}
	if cfg.Filter == nil {
		cfg.Filter = allowAllFilter{}
	}
	l := &Listener{
		conn:   conn,
		r:      r,
		cfg:    cfg,
		accept: make(chan *Transport, 16),
		peers:  make(map[string]*Transport),
	}
	go l.readLoop()
	return l, nil
}

// Accept blocks until a new peer's first datagram arrives and returns its
// Transport.
func (l *Listener) Accept() (*Transport, error) {
	t, ok := <-l.accept
	if !ok {
		return nil, errors.New("rudp: listener closed")
	}
	return t, nil
}

// Close stops accepting new peers and releases the socket.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.conn.Close()
}

func (l *Listener) readLoop() {
	buf := make([]byte, MaxDatagram+64)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				close(l.accept)
			}
			return
		}
		if n == 0 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		key := raddr.String()

		l.mu.Lock()
		t, known := l.peers[key]
		if !known {
			if !l.cfg.Filter.AllowPeer(key) {
				l.mu.Unlock()
				continue
			}
			dst := raddr
			t = NewTransport(l.r, l.cfg, func(out []byte) error {
				_, werr := l.conn.WriteToUDP(out, dst)
				return werr
			})
			l.peers[key] = t
			l.mu.Unlock()
			select {
			case l.accept <- t:
			default:
			}
		} else {
			l.mu.Unlock()
		}
		t.Feed(pkt)
	}
}
