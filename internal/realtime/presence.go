package realtime

import "sync"

// Participant is a remote user shown as typing or online.
type Participant struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// participantSet is an insertion ordered set keyed by user ID.
type participantSet struct {
	order []Participant
}

func (s *participantSet) add(p Participant) bool {
	for _, existing := range s.order {
		if existing.ID == p.ID {
			return false
		}
	}
	s.order = append(s.order, p)
	return true
}

func (s *participantSet) remove(id int) bool {
	for i, existing := range s.order {
		if existing.ID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return true
		}
	}
	return false
}

func (s *participantSet) list() []Participant {
	return append([]Participant{}, s.order...)
}

// PresenceTracker follows which participants are typing and which are connected. Entries
// live until an explicit stop signal, a leave, or Reset.
type PresenceTracker struct {
	mu     sync.Mutex
	typing participantSet
	online participantSet
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{}
}

// OnTyping applies a typing signal. It reports whether the typing set changed.
func (t *PresenceTracker) OnTyping(userID int, name string, isTyping bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isTyping {
		return t.typing.add(Participant{ID: userID, Name: name})
	}
	return t.typing.remove(userID)
}

// OnJoin marks the participant as online.
func (t *PresenceTracker) OnJoin(userID int, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online.add(Participant{ID: userID, Name: name})
}

// OnLeave marks the participant as offline and clears any typing entry.
func (t *PresenceTracker) OnLeave(userID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	left := t.online.remove(userID)
	stopped := t.typing.remove(userID)
	return left || stopped
}

// Typing returns the participants currently typing.
func (t *PresenceTracker) Typing() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing.list()
}

// Online returns the participants currently connected.
func (t *PresenceTracker) Online() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online.list()
}

// Reset clears both sets.
func (t *PresenceTracker) Reset() {
	t.mu.Lock()
	t.typing = participantSet{}
	t.online = participantSet{}
	t.mu.Unlock()
}
