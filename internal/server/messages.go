package server

import (
	"log"

	"msimchat/internal/frame"
	"msimchat/internal/roster"
)

// handleDirectMessage persists f as a DirectMessage and, only if the
// receiver currently has a live session, fans out a text frame
// attributed to the sender. There is no response frame to the sender
// either way.
func (s *Server) handleDirectMessage(sess *roster.Session, f frame.Frame) {
	receiver := f.Username
	if _, err := s.store.SaveMessage(sess.Username, receiver, f.Content); err != nil {
		log.Printf("direct-message persist error from %q to %q: %v", sess.Username, receiver, err)
		return
	}
	s.alog.Event("direct-message", sess.Username, true, "receiver", receiver)

	if !s.roster.IsOnline(receiver) {
		return
	}
	buf := frame.Encode(frame.TypeText, sess.Username, f.Content)
	s.roster.DeliverExcept([]string{receiver}, "", buf)
}

// handleHistoryRequest renders the caller's conversation with the peer
// named in f.Username and replies with a history-response frame.
func (s *Server) handleHistoryRequest(sess *roster.Session, f frame.Frame) {
	peer := f.Username
	messages, err := s.store.GetConversationHistory(sess.Username, peer, historyLimit)
	if err != nil {
		log.Printf("history-request error for %q/%q: %v", sess.Username, peer, err)
		messages = nil
	}

	buf := frame.Encode(frame.TypeHistoryResponse, peer, renderDirectHistory(messages))
	_ = sess.Send(buf)
}
