package servers

// List returns a snapshot of all sessions.
func (r *Registry) List() []SessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]SessionEntry, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, *s)
	}
	return list
}

// Keys returns the keys of every registered session.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	return keys
}
