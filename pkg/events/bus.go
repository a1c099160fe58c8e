package events

import "sync"

// queueSize bounds the pending-event buffer. Publishers block rather than
// drop when the buffer is full; progress-only events are coalesced on drain
// so the buffer cannot grow unbounded from chatty agents.
const queueSize = 256

// Subscriber receives events in emission order.
type Subscriber func(Event)

// Bus is a bounded in-process event bus. One goroutine drains the queue and
// fans out to subscribers, so subscriber callbacks never run concurrently
// and always observe events in order.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]Subscriber
	nextID int

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewBus creates a running bus.
func NewBus() *Bus {
	b := &Bus{
		subs:  make(map[int]Subscriber),
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.drain()
	return b
}

// Subscribe registers fn and returns a token for Unsubscribe.
func (b *Bus) Subscribe(fn Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = fn
	return b.nextID
}

// Unsubscribe removes a subscriber. Safe to call with a stale token.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// ClearSubscribers drops all subscribers. Called on terminal task state so
// event references do not outlive the run.
func (b *Bus) ClearSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]Subscriber)
}

// Publish enqueues an event. Blocks when the buffer is full instead of
// dropping; the drain goroutine coalesces pending progress messages.
func (b *Bus) Publish(e Event) {
	select {
	case <-b.done:
	case b.queue <- e:
	}
}

// Close stops the drain goroutine after flushing queued events.
func (b *Bus) Close() {
	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return
	default:
		close(b.done)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) drain() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.queue:
			b.dispatch(b.coalesce(e))
		case <-b.done:
			// Flush whatever is already queued, then exit.
			for {
				select {
				case e := <-b.queue:
					b.dispatch(b.coalesce(e))
				default:
					return
				}
			}
		}
	}
}

// coalesce collapses runs of pending progress-only events for the same task,
// keeping the newest. Non-progress events are never skipped.
func (b *Bus) coalesce(e Event) Event {
	if e.Data.MessageType != MessageTypeProgress {
		return e
	}
	for {
		select {
		case next := <-b.queue:
			if next.Data.MessageType == MessageTypeProgress && next.Data.TaskID == e.Data.TaskID {
				e = next
				continue
			}
			// Different kind of event: deliver the coalesced progress event
			// first, then this one, preserving order.
			b.dispatch(e)
			return next
		default:
			return e
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subs))
	ids := make([]int, 0, len(b.subs))
	for id, fn := range b.subs {
		ids = append(ids, id)
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	// Stable fan-out order keeps multi-subscriber tests deterministic.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			subs[j-1], subs[j] = subs[j], subs[j-1]
		}
	}
	for _, fn := range subs {
		fn(e)
	}
}
