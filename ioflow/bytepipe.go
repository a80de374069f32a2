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

package ioflow

import "github.com/xtaci/vrudp/reactor"

// BytePipe is component A: the byte-pipe flow-control primitive.
type BytePipe = Pipe[byte]

// ByteConsumer/ByteProducer name the byte-element instantiations of the
// generic Consumer/Producer interfaces.
type ByteConsumer = Consumer[byte]
type ByteProducer = Producer[byte]

// BytePipePair bundles the consumer- and producer-facing facades of a
// BytePipe, the "VByteIOPair" helper from spec §9's open question, kept in
// this module alongside the byte pipe itself rather than split out.
type BytePipePair struct {
	Consume ByteConsumer
	Produce ByteProducer
}

// NewBytePipePair constructs a BytePipe and returns its facade pair.
func NewBytePipePair(r *reactor.Reactor, bufCap int) (*BytePipe, BytePipePair) {
	p := NewPipe[byte](r, bufCap)
	return p, BytePipePair{Consume: p.ConsumerFacade(), Produce: p.ProducerFacade()}
}
