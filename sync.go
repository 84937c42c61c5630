package pstate

// onExternalChange handles a signal for this Store's key: it re-runs the
// full read pipeline rather than trusting the raw value carried by the
// signal, then replaces the held state wholesale. Signals for other keys are
// dropped on exact-match comparison; there is no prefix matching.
func (s *Store) onExternalChange(change ExternalChange) {
	if change.Key != s.key {
		return
	}

	s.mu.Lock()
	next, err := s.restore()
	if err != nil {
		s.mu.Unlock()
		if s.cfg.syncErr != nil {
			s.cfg.syncErr(err)
		}
		return
	}
	s.state = next
	handlers := s.stageNotify(Meta{Source: SourceExternal})
	s.mu.Unlock()
	handlers.run()
}
