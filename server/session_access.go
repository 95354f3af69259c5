package server

func (s *session) handleUSER(user string) {
	if s.fs != nil {
		s.reply(503, "Already logged in.")
		return
	}
	s.user = user
	s.reply(331, "User name okay, need password.")
}

func (s *session) handlePASS(pass string) {
	if s.fs != nil {
		s.reply(503, "Already logged in.")
		return
	}
	if s.user == "" {
		s.reply(503, "Login with USER first.")
		return
	}
	ctx, err := s.server.driver.Authenticate(s.user, pass)
	if err != nil {
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"reason", err.Error(),
		)
		s.reply(530, "Login incorrect.")
		return
	}
	s.fs = ctx
	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
	s.reply(230, "User logged in, proceed.")
}
