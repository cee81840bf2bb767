package session

import "sync"

// Selection is the selected conversation id shared by the panels of one
// session. There is one writer at a time and any number of readers.
type Selection struct {
	mu      sync.RWMutex
	current string
	subs    []chan string
}

func NewSelection() *Selection {
	return &Selection{}
}

func (s *Selection) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Select changes the selection and reports whether it changed
func (s *Selection) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.current {
		return false
	}
	s.current = id
	for _, ch := range s.subs {
		// Keep only the latest value for slow readers
		select {
		case <-ch:
		default:
		}
		ch <- id
	}
	return true
}

// Subscribe returns a channel that receives the id after each change. A
// reader that falls behind sees only the most recent selection.
func (s *Selection) Subscribe() <-chan string {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}
