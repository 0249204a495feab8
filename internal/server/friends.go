package server

import (
	"fmt"
	"log"
	"strings"

	"msimchat/internal/frame"
	"msimchat/internal/roster"
)

func (s *Server) handleFriendRequest(sess *roster.Session, f frame.Frame) {
	target := f.Content
	ok, err := s.store.SendFriendRequest(sess.Username, target)
	if err != nil {
		log.Printf("friend-request error from %q: %v", sess.Username, err)
		ok = false
	}
	s.alog.Event("friend-request", sess.Username, ok, "target", target)
	s.sendAuthResponse(sess, ok)
}

func (s *Server) handleFriendAccept(sess *roster.Session, f frame.Frame) {
	requester := f.Content
	ok, err := s.store.AcceptFriendRequest(requester, sess.Username)
	if err != nil {
		log.Printf("friend-accept error from %q: %v", sess.Username, err)
		ok = false
	}
	s.alog.Event("friend-accept", sess.Username, ok, "requester", requester)
	s.sendAuthResponse(sess, ok)
}

func (s *Server) handleFriendRefuse(sess *roster.Session, f frame.Frame) {
	requester := f.Content
	ok, err := s.store.RefuseFriendRequest(requester, sess.Username)
	if err != nil {
		log.Printf("friend-refuse error from %q: %v", sess.Username, err)
		ok = false
	}
	s.alog.Event("friend-refuse", sess.Username, ok, "requester", requester)
	s.sendAuthResponse(sess, ok)
}

func (s *Server) handleFriendRemove(sess *roster.Session, f frame.Frame) {
	target := f.Content
	ok, err := s.store.RemoveFriend(sess.Username, target)
	if err != nil {
		log.Printf("friend-remove error from %q: %v", sess.Username, err)
		ok = false
	}
	s.alog.Event("friend-remove", sess.Username, ok, "target", target)
	s.sendAuthResponse(sess, ok)
}

// handleFriendListRequest builds the annotated friend list string.
// Per spec.md §5's lock-ordering fix, the store's rows are fetched and
// the store lock released before the roster is consulted for the
// online flag — the two components are never nested.
func (s *Server) handleFriendListRequest(sess *roster.Session, f frame.Frame) {
	entries, err := s.store.ListFriends(sess.Username)
	if err != nil {
		log.Printf("friend-list-request error for %q: %v", sess.Username, err)
		entries = nil
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		onlineWord := "offline"
		if s.roster.IsOnline(e.Name) {
			onlineWord = "online"
		}
		parts = append(parts, fmt.Sprintf("%s: %s, %s", e.Name, e.Status, onlineWord))
	}

	content := "Friends: " + strings.Join(parts, "; ")
	buf := frame.Encode(frame.TypeFriendListResponse, "Server", content)
	_ = sess.Send(buf)
}

// handleAllUsersStatusRequest renders every account's friendship
// status relative to the requester, again consulting the roster only
// after the store's results have been snapshotted and its lock
// released.
func (s *Server) handleAllUsersStatusRequest(sess *roster.Session, f frame.Frame) {
	entries, err := s.store.ListAllUsersWithStatus(sess.Username)
	if err != nil {
		log.Printf("all-users-status-request error for %q: %v", sess.Username, err)
		entries = nil
	}

	var b strings.Builder
	b.WriteString("Users and status:\n")
	for _, e := range entries {
		onlineWord := "offline"
		if s.roster.IsOnline(e.Name) {
			onlineWord = "online"
		}
		fmt.Fprintf(&b, "- %s: %s, %s\n", e.Name, e.Status, onlineWord)
	}

	buf := frame.Encode(frame.TypeAllUsersStatusResponse, "Server", b.String())
	_ = sess.Send(buf)
}
