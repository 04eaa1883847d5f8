package tevent

import "slices"

// fire walks s from the most recently registered handler to the oldest and,
// for each handler whose arg equals filter (any handler when filter is nil),
// invokes it and removes it from s. visit, if set, is called after each
// handler has fired. It returns the number of handlers fired.
//
// The caller provides exclusion: the registry lock in full mode, thread
// ownership in embedded mode.
func fire(filter any, s *slot, visit func(*handler)) int {
	if s == nil || len(s.handlers) == 0 {
		return 0
	}
	n := 0
	for i := len(s.handlers) - 1; i >= 0; i-- {
		h := s.handlers[i]
		if filter != nil && h.arg != filter {
			continue
		}
		// unlink before the call so a panicking handler cannot fire twice
		s.handlers = slices.Delete(s.handlers, i, i+1)
		h.fn(h.arg)
		n++
		if visit != nil {
			visit(h)
		}
	}
	return n
}

// removeKey drops, without firing, every handler in s registered under key.
func removeKey(key *Key, s *slot) int {
	before := len(s.handlers)
	s.handlers = slices.DeleteFunc(s.handlers, func(h *handler) bool { return h.key == key })
	return before - len(s.handlers)
}
