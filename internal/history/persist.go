package history

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const persistShards = 4

// persister serializes backing-store work per item id while letting
// different ids proceed concurrently. All work for one id lands on the same
// shard and drains in FIFO order, so a delete queued after a blob save for
// the same id always runs once that save has finished. Queueing never
// blocks the caller.
type persister struct {
	shards [persistShards]*persistShard
	wg     sync.WaitGroup
}

type persistShard struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
}

func newPersister() *persister {
	p := &persister{}
	for i := range p.shards {
		s := &persistShard{}
		s.cond = sync.NewCond(&s.mu)
		p.shards[i] = s
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			s.run()
		}()
	}
	return p
}

func (p *persister) do(id uuid.UUID, fn func()) {
	p.shards[shardFor(id)].push(fn)
}

// barrier calls fn on its own goroutine once every task queued before this
// call has drained, across all shards.
func (p *persister) barrier(fn func()) {
	var wg sync.WaitGroup
	for _, s := range p.shards {
		wg.Add(1)
		if !s.push(wg.Done) {
			wg.Done()
		}
	}
	go func() {
		wg.Wait()
		fn()
	}()
}

// close drains every queued task and stops the shard workers
func (p *persister) close() {
	for _, s := range p.shards {
		s.close()
	}
	p.wg.Wait()
}

func shardFor(id uuid.UUID) int {
	h := fnv.New32a()
	h.Write(id[:])
	return int(h.Sum32() % persistShards)
}

func (s *persistShard) push(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
	return true
}

func (s *persistShard) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}

func (s *persistShard) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
