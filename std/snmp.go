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

package std

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/xtaci/vrudp/rudp"
)

// Sample names one tracked Transport's stats row, since unlike kcp-go's
// single process-wide DefaultSnmp, an RUDP process tracks many peers.
type Sample struct {
	Peer  string
	Stats rudp.Stats
}

// StatsLogger periodically appends one CSV row per tracked peer, the RUDP
// generalization of kcptun's std.SnmpLogger (same ticker + rotated-filename
// + encoding/csv shape, sampling rudp.Stats instead of kcp.DefaultSnmp).
func StatsLogger(path string, interval int, sample func() []Sample) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"unix", "peer"}, rudp.Stats{}.Header()...)); err != nil {
				log.Println(err)
			}
		}
		now := fmt.Sprint(time.Now().Unix())
		for _, s := range sample() {
			row := append([]string{now, s.Peer}, statsToSlice(s.Stats)...)
			if err := w.Write(row); err != nil {
				log.Println(err)
			}
		}
		w.Flush()
		f.Close()
	}
}

func statsToSlice(s rudp.Stats) []string {
	return []string{
		fmt.Sprint(s.SRTT.Milliseconds()),
		fmt.Sprint(s.RTTVAR.Milliseconds()),
		fmt.Sprint(s.RTO.Milliseconds()),
		fmt.Sprintf("%.3f", s.Cwnd),
		fmt.Sprintf("%.3f", s.Ssthresh),
		fmt.Sprint(s.BackoffCount),
		fmt.Sprint(s.SendAcked),
		fmt.Sprint(s.RecvBufPos),
		fmt.Sprint(s.InFlightSegments),
		fmt.Sprint(s.Validated),
		fmt.Sprint(s.Failed),
	}
}
