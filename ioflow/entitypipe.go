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

// Entity is an opaque application-level message carried by an EntityPipe.
// The entity-serialization format itself belongs to the vec package.
type Entity = any

// EntityPipe is component B: same contract as BytePipe but carrying Entity
// values instead of bytes.
type EntityPipe = Pipe[Entity]

type EntityConsumer = Consumer[Entity]
type EntityProducer = Producer[Entity]

// EntityPipePair is the entity-pipe analog of BytePipePair.
type EntityPipePair struct {
	Consume EntityConsumer
	Produce EntityProducer
}

// NewEntityPipePair constructs an EntityPipe and returns its facade pair.
func NewEntityPipePair(r *reactor.Reactor, bufCap int) (*EntityPipe, EntityPipePair) {
	p := NewPipe[Entity](r, bufCap)
	return p, EntityPipePair{Consume: p.ConsumerFacade(), Produce: p.ProducerFacade()}
}
