package service

import "sync"

// notifier is an in-process wakeup broadcast: workers subscribe, submitters
// notify. Notifications are best-effort; a worker that misses one still polls
// on its fallback interval.
type notifier struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan struct{})}
}

// Subscribe registers a wakeup channel and returns it with an unsubscribe
// function. The channel has capacity one so a pending wakeup is never lost
// between waits.
func (n *notifier) Subscribe() (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
	return unsub, ch
}

// Notify wakes all subscribers without blocking.
func (n *notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
