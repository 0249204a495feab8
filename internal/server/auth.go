package server

import (
	"io"
	"log"
	"time"

	"msimchat/internal/frame"
	"msimchat/internal/metrics"
	"msimchat/internal/roster"
)

// runAuthGate consumes frames from sess's socket until the connection
// authenticates or drops. It never adds sess to the roster itself —
// the caller does that once a username is returned.
func (s *Server) runAuthGate(sess *roster.Session) (string, bool) {
	for {
		f, err := frame.Read(sess.Conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("auth phase read error from %s: %v", sess.Addr, err)
			}
			return "", false
		}

		switch f.Type {
		case frame.TypeRegister:
			if s.handleRegisterAuth(sess, f) {
				return f.Username, true
			}
		case frame.TypeLogin:
			if s.handleLoginAuth(sess, f) {
				return f.Username, true
			}
		case frame.TypeChangePassword:
			s.handleChangePasswordAuth(sess, f)
		case frame.TypeDeleteAccount:
			s.handleDeleteAccountAuth(sess, f)
		case frame.TypeUsernameLegacy:
			// Deprecated: no password check, retained for the earliest
			// client variant. Still requires the account to exist.
			exists, err := s.store.UserExists(f.Username)
			if err != nil {
				log.Printf("username-legacy existence check error for %q: %v", f.Username, err)
				continue
			}
			if exists {
				s.touchOnline(f.Username)
				return f.Username, true
			}
		default:
			// Silent ignore, per spec.md §4.5.
		}
	}
}

func (s *Server) sendAuthResponse(sess *roster.Session, ok bool) {
	buf := frame.Encode(frame.TypeAuthResponse, "Server", frame.AuthResponseContent(ok))
	_ = sess.Send(buf)
}

func (s *Server) handleRegisterAuth(sess *roster.Session, f frame.Frame) bool {
	ok, err := s.store.AddUser(f.Username, f.Content)
	if err != nil {
		log.Printf("register error for %q: %v", f.Username, err)
		ok = false
	}
	metrics.AuthOutcomesTotal.WithLabelValues("register", outcomeLabel(ok)).Inc()
	s.alog.Event("register", f.Username, ok)
	s.sendAuthResponse(sess, ok)
	if ok {
		s.touchOnline(f.Username)
	}
	return ok
}

func (s *Server) handleLoginAuth(sess *roster.Session, f frame.Frame) bool {
	ok, err := s.store.VerifyUser(f.Username, f.Content)
	if err != nil {
		log.Printf("login error for %q: %v", f.Username, err)
		ok = false
	}
	metrics.AuthOutcomesTotal.WithLabelValues("login", outcomeLabel(ok)).Inc()
	s.alog.Event("login", f.Username, ok)
	s.sendAuthResponse(sess, ok)
	if ok {
		s.touchOnline(f.Username)
	}
	return ok
}

func (s *Server) handleChangePasswordAuth(sess *roster.Session, f frame.Frame) {
	ok, err := s.store.ChangePassword(f.Username, f.Content)
	if err != nil {
		log.Printf("change-password error for %q: %v", f.Username, err)
		ok = false
	}
	metrics.AuthOutcomesTotal.WithLabelValues("change-password", outcomeLabel(ok)).Inc()
	s.alog.Event("change-password", f.Username, ok)
	s.sendAuthResponse(sess, ok)
}

func (s *Server) handleDeleteAccountAuth(sess *roster.Session, f frame.Frame) {
	ok, err := s.store.DeleteUser(f.Username)
	if err != nil {
		log.Printf("delete-account error for %q: %v", f.Username, err)
		ok = false
	}
	metrics.AuthOutcomesTotal.WithLabelValues("delete-account", outcomeLabel(ok)).Inc()
	s.alog.Event("delete-account", f.Username, ok)
	s.sendAuthResponse(sess, ok)
}

// touchOnline stamps the last-online timestamp for a newly
// authenticated account. Errors are logged, not escalated: a failure
// here must never block the session from proceeding.
func (s *Server) touchOnline(username string) {
	if err := s.store.UpdateLastOnline(username, time.Now()); err != nil {
		log.Printf("update last_online error for %q: %v", username, err)
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
