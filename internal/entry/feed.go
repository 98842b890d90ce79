package entry

import "sync"

// Feed fans out list snapshots to the subscribers of each subject
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewFeed creates an empty Feed
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription receives snapshots of one subject's entries until stopped
type Subscription struct {
	feed    *Feed
	subject string
	updates chan []*Entry
	once    sync.Once
}

// Subscribe registers a new subscription for subject. The caller must Stop it.
func (f *Feed) Subscribe(subject string) *Subscription {
	sub := &Subscription{
		feed:    f,
		subject: subject,
		updates: make(chan []*Entry, 1),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[subject] == nil {
		f.subs[subject] = make(map[*Subscription]struct{})
	}
	f.subs[subject][sub] = struct{}{}
	return sub
}

// Updates delivers snapshots. It is closed by Stop.
func (s *Subscription) Updates() <-chan []*Entry {
	return s.updates
}

// Stop releases the subscription. Safe to call more than once.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		f := s.feed
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[s.subject], s)
		if len(f.subs[s.subject]) == 0 {
			delete(f.subs, s.subject)
		}
		close(s.updates)
	})
}

// Watched reports whether anyone is subscribed to subject
func (f *Feed) Watched(subject string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[subject]) > 0
}

// Publish hands the snapshot to every subscriber of subject. A subscriber that
// has not consumed the previous snapshot gets it replaced by this one.
func (f *Feed) Publish(subject string, snapshot []*Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[subject] {
		select {
		case sub.updates <- snapshot:
			continue
		default:
		}
		select {
		case <-sub.updates:
		default:
		}
		sub.updates <- snapshot
	}
}
