package conversations

// slots hands out a generation per logical request slot. Only the response
// carrying the latest generation of its slot may be applied.
type slots struct {
	gen map[string]uint64
}

func newSlots() *slots {
	return &slots{gen: make(map[string]uint64)}
}

func (s *slots) issue(name string) uint64 {
	s.gen[name]++
	return s.gen[name]
}

func (s *slots) current(name string, gen uint64) bool {
	return s.gen[name] == gen
}

// seenSet remembers the most recent keys up to a fixed capacity.
type seenSet struct {
	keys  map[string]struct{}
	order []string
	next  int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		keys:  make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

// add records key and reports whether it was new.
func (s *seenSet) add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	if old := s.order[s.next]; old != "" {
		delete(s.keys, old)
	}
	s.order[s.next] = key
	s.next = (s.next + 1) % len(s.order)
	s.keys[key] = struct{}{}
	return true
}
