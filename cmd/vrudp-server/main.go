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

package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/vrudp/cmd/internal/bridge"
	"github.com/xtaci/vrudp/link"
	"github.com/xtaci/vrudp/oph"
	"github.com/xtaci/vrudp/reactor"
	"github.com/xtaci/vrudp/rudp"
	"github.com/xtaci/vrudp/std"
	"github.com/xtaci/vrudp/vec"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "vrudp-server"
	myApp.Usage = "server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: ":29900",
			Usage: `vrudp server listen address, eg: "IP:29900"`,
		},
		cli.StringFlag{
			Name:  "target,t",
			Value: "127.0.0.1:12948",
			Usage: "target TCP server address",
		},
		cli.StringFlag{
			Name:   "secret",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret this side signs outgoing datagrams with",
			EnvVar: "VRUDP_SECRET",
		},
		cli.StringFlag{
			Name:   "peer-secret",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret the peer signs its datagrams with",
			EnvVar: "VRUDP_PEER_SECRET",
		},
		cli.IntFlag{
			Name:  "rto",
			Value: 3000,
			Usage: "initial retransmission timeout, in milliseconds",
		},
		cli.IntFlag{
			Name:  "min-rto",
			Value: 100,
			Usage: "floor on the adaptive RTO, in milliseconds",
		},
		cli.IntFlag{
			Name:  "max-rto",
			Value: 60000,
			Usage: "ceiling on the adaptive RTO, in milliseconds",
		},
		cli.IntFlag{
			Name:  "recv-win-step",
			Value: 13107,
			Usage: "receive window advertisement granularity, in bytes",
		},
		cli.IntFlag{
			Name:  "max-timers",
			Value: 20,
			Usage: "bound on the pooled RTO timers per connection",
		},
		cli.Float64Flag{
			Name:  "loss",
			Value: 0,
			Usage: "drop this fraction of outgoing datagrams, and of incoming ones (testing only)",
		},
		cli.IntFlag{
			Name:  "idle-timeout",
			Value: 0,
			Usage: "force-fail a connection idle this many seconds (0 disables)",
		},
		cli.StringFlag{
			Name:  "transports",
			Value: "",
			Usage: "comma-separated OPH tags this side accepts, eg: VTS,PLAIN (empty disables the OPH bridge)",
		},
		cli.StringFlag{
			Name:  "codec",
			Value: "gob",
			Usage: "VEC entity codec: gob or utf8",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "snappy-compress VEC frame bodies (must match the client)",
		},
		cli.IntFlag{
			Name:  "msgmax",
			Value: 1 << 20,
			Usage: "maximum VEC entity size accepted from the peer, in bytes",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect per-connection RUDP stats to file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collection period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'connection open/close' messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	config := Config{}
	config.Listen = c.String("listen")
	config.Target = c.String("target")
	config.Secret = c.String("secret")
	config.PeerSecret = c.String("peer-secret")
	config.RTO = c.Int("rto")
	config.MinRTO = c.Int("min-rto")
	config.MaxRTO = c.Int("max-rto")
	config.RecvWinStep = c.Int("recv-win-step")
	config.MaxTimers = c.Int("max-timers")
	config.Loss = c.Float64("loss")
	config.IdleTimeout = c.Int("idle-timeout")
	config.Transports = c.String("transports")
	config.Codec = c.String("codec")
	config.Compress = c.Bool("compress")
	config.MsgMax = c.Int("msgmax")
	config.StatsLog = c.String("statslog")
	config.StatsPeriod = c.Int("statsperiod")
	config.Log = c.String("log")
	config.Quiet = c.Bool("quiet")

	if c.String("c") != "" {
		checkError(parseJSONConfig(&config, c.String("c")))
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("listening on:", config.Listen)
	log.Println("target:", config.Target)
	log.Println("codec:", config.Codec)
	log.Println("compress:", config.Compress)
	log.Println("transports:", config.Transports)
	log.Println("rto:", config.RTO, "min-rto:", config.MinRTO, "max-rto:", config.MaxRTO)
	log.Println("recv-win-step:", config.RecvWinStep)
	log.Println("msgmax:", config.MsgMax)
	log.Println("loss:", config.Loss)
	log.Println("statslog:", config.StatsLog)
	log.Println("statsperiod:", config.StatsPeriod)
	log.Println("quiet:", config.Quiet)

	if len(config.Secret) < 16 {
		color.Red("WARNING: 'secret' is only %d bytes; a short pre-shared secret weakens the HMAC/VTS key derivation", len(config.Secret))
	}

	codec, ok := vec.LookupCodec(config.Codec)
	if !ok {
		log.Println("unknown codec, falling back to default:", config.Codec)
		codec = nil
	}

	var bridgeCfg *link.BridgeConfig
	if config.Transports != "" {
		tags := splitTags(config.Transports)
		factories, err := buildFactories(tags, []byte(config.Secret))
		checkError(err)
		bridgeCfg = &link.BridgeConfig{Role: oph.RoleServer, Enabled: tags, Factories: factories}
	}

	rudpCfg := rudp.DefaultConfig()
	rudpCfg.LocalSecret = []byte(config.Secret)
	rudpCfg.PeerSecret = []byte(config.PeerSecret)
	rudpCfg.InitialRTO = time.Duration(config.RTO) * time.Millisecond
	rudpCfg.MinRTO = time.Duration(config.MinRTO) * time.Millisecond
	rudpCfg.MaxRTO = time.Duration(config.MaxRTO) * time.Millisecond
	rudpCfg.RecvWinStep = config.RecvWinStep
	rudpCfg.MaxTimers = config.MaxTimers
	rudpCfg.LossRate = config.Loss
	rudpCfg.IdleTimeout = time.Duration(config.IdleTimeout) * time.Second

	r := reactor.New(nil)
	r.Start()

	var mu sync.Mutex
	transports := make(map[string]*rudp.Transport)

	if config.StatsLog != "" {
		go std.StatsLogger(config.StatsLog, config.StatsPeriod, func() []std.Sample {
			mu.Lock()
			defer mu.Unlock()
			samples := make([]std.Sample, 0, len(transports))
			for peer, t := range transports {
				samples = append(samples, std.Sample{Peer: peer, Stats: t.Snapshot()})
			}
			return samples
		})
	}

	listener, err := rudp.Listen(r, config.Listen, rudpCfg)
	checkError(err)

	logln := func(v ...any) {
		if !config.Quiet {
			log.Println(v...)
		}
	}

	for {
		transport, err := listener.Accept()
		if err != nil {
			log.Printf("%+v", err)
			continue
		}

		go func(transport *rudp.Transport) {
			key := fmt.Sprintf("%p", transport)
			mu.Lock()
			transports[key] = transport
			mu.Unlock()
			defer func() {
				mu.Lock()
				delete(transports, key)
				mu.Unlock()
			}()

			conn, err := net.Dial("tcp", config.Target)
			if err != nil {
				logln("dial target:", err)
				transport.Abort()
				return
			}
			defer conn.Close()

			logln("connection opened", "out:", config.Target)
			defer logln("connection closed", "out:", config.Target)

			endpoint := bridge.New(r, conn)
			transportSide := link.TransportSide{Consume: transport.ConsumerSide(), Produce: transport}
			session, err := link.New(r, transportSide, link.Config{
				Codec:    codec,
				MsgMax:   config.MsgMax,
				Compress: config.Compress,
				Bridge:   bridgeCfg,
			}, endpoint)
			if err != nil {
				logln("session:", err)
				transport.Abort()
				return
			}
			_ = session
		}(transport)
	}
}

func splitTags(s string) []string {
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func buildFactories(tags []string, secret []byte) (map[string]oph.Factory, error) {
	factories := make(map[string]oph.Factory)
	for _, tag := range tags {
		if tag == "VTS" {
			f, err := oph.NewVTSFactory(secret)
			if err != nil {
				return nil, err
			}
			factories["VTS"] = f
		}
	}
	return factories, nil
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
