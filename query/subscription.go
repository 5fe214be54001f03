package query

// Subscription delivers change notifications for one key. The channel holds
// only the latest snapshot; slow readers skip intermediate states. While a
// subscription is open its entry is never garbage collected.
type Subscription struct {
	id     uint64
	store  *Store
	entry  *entry
	ch     chan Snapshot
	closed bool
}

// Subscribe observes key, creating an empty entry if none exists. The
// current snapshot is delivered immediately.
func (s *Store) Subscribe(key Key) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{store: s, ch: make(chan Snapshot, 1)}
	if s.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	e, _ := s.entryLocked(key)
	s.nextSub++
	sub.id = s.nextSub
	sub.entry = e
	e.observers[sub.id] = sub
	now := s.opts.now()
	e.lastAccess = now
	offer(sub.ch, e.snapshot(now))
	return sub
}

// C returns the notification channel. It is closed when the subscription,
// its entry or the Store is closed.
func (sub *Subscription) C() <-chan Snapshot { return sub.ch }

// Close unsubscribes. It is safe to call more than once.
func (sub *Subscription) Close() {
	s := sub.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.closed {
		return
	}
	sub.entry.lastAccess = s.opts.now()
	s.closeSubLocked(sub)
}

func (s *Store) closeSubLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if sub.entry != nil {
		delete(sub.entry.observers, sub.id)
	}
	close(sub.ch)
}

func (s *Store) notifyLocked(e *entry, snap Snapshot) {
	for _, sub := range e.observers {
		offer(sub.ch, snap)
	}
}

// offer replaces any pending snapshot with snap. Callers hold Store.mu, so
// the store is the only sender.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
