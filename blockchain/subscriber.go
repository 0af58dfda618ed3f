package blockchain

import (
	"sync"

	"github.com/mvs-org/metaverse-go/chain"
)

// ReorgHandler observes chain mutations: blocks appended, blocks removed and
// the fork height the change hinges on. A plain connect reports one added
// block and no removals.
type ReorgHandler func(added, removed []*chain.Block, forkHeight uint64)

// subscriber fans out chain notifications. Persistent handlers re-arm after
// every firing; one-shot handlers are drained on the first.
type subscriber struct {
	mu        sync.Mutex
	handlers  []ReorgHandler
	oneShots  []ReorgHandler
	stopped   bool
}

// Subscribe registers a long-lived handler.
func (s *subscriber) Subscribe(h ReorgHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.handlers = append(s.handlers, h)
}

// SubscribeOnce registers a handler fired at most once.
func (s *subscriber) SubscribeOnce(h ReorgHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.oneShots = append(s.oneShots, h)
}

func (s *subscriber) notify(added, removed []*chain.Block, forkHeight uint64) {
	s.mu.Lock()
	handlers := append([]ReorgHandler(nil), s.handlers...)
	oneShots := s.oneShots
	s.oneShots = nil
	s.mu.Unlock()

	for _, h := range handlers {
		h(added, removed, forkHeight)
	}
	for _, h := range oneShots {
		h(added, removed, forkHeight)
	}
}

// stop drops every handler; further subscriptions are ignored so shutdown is
// deterministic.
func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.handlers = nil
	s.oneShots = nil
}
