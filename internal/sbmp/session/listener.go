package session

// AddListener registers cb to receive every subsequent datagram tagged with
// session, until RemoveListener is called or the table slot is reused. A
// session already registered is left untouched and AddListener returns
// ErrDuplicateListener; the caller must remove the old listener first to
// replace it.
func (ep *Endpoint) AddListener(session uint16, cb Listener, obj any) error {
	if cb == nil {
		return ErrNilListener
	}

	freeIdx := -1
	for i := range ep.listeners {
		slot := &ep.listeners[i]
		if slot.active && slot.session == session {
			return ErrDuplicateListener
		}
		if !slot.active && freeIdx < 0 {
			freeIdx = i
		}
	}
	if freeIdx < 0 {
		return ErrListenerTableFull
	}

	slot := &ep.listeners[freeIdx]
	slot.session = session
	slot.callback = cb
	slot.obj = obj
	slot.active = true
	return nil
}

// RemoveListener frees the slot registered for session, if any, and reports
// whether one was found.
func (ep *Endpoint) RemoveListener(session uint16) bool {
	for i := range ep.listeners {
		slot := &ep.listeners[i]
		if slot.active && slot.session == session {
			*slot = listenerSlot{}
			return true
		}
	}
	return false
}

// ListenerCount reports how many listener slots are currently occupied.
func (ep *Endpoint) ListenerCount() int {
	n := 0
	for i := range ep.listeners {
		if ep.listeners[i].active {
			n++
		}
	}
	return n
}
