package server

import (
	"fmt"
	"log"
	"strings"

	"msimchat/internal/frame"
	"msimchat/internal/roster"
)

func (s *Server) handleGroupCreate(sess *roster.Session, f frame.Frame) {
	ok, err := s.store.CreateGroup(f.Content, sess.Username)
	if err != nil {
		log.Printf("group-create error from %q: %v", sess.Username, err)
		ok = false
	}
	s.alog.Event("group-create", sess.Username, ok, "group", f.Content)
	buf := frame.Encode(frame.TypeGroupCreateResponse, "Server", frame.AuthResponseContent(ok))
	_ = sess.Send(buf)
}

// handleGroupAdd requires the requesting session to be a current
// member of the named group; a non-member request is silently ignored
// per the known surprising authorization-denial behavior.
func (s *Server) handleGroupAdd(sess *roster.Session, f frame.Frame) {
	group, target := f.Username, f.Content

	member, err := s.store.IsMemberOfGroup(group, sess.Username)
	if err != nil {
		log.Printf("group-add membership check error for %q/%q: %v", sess.Username, group, err)
		return
	}
	if !member {
		return
	}

	ok, err := s.store.AddUserToGroup(group, target)
	if err != nil {
		log.Printf("group-add error from %q on %q: %v", sess.Username, group, err)
		ok = false
	}
	s.alog.Event("group-add", sess.Username, ok, "group", group, "target", target)
	s.sendAuthResponse(sess, ok)
}

func (s *Server) handleGroupRemove(sess *roster.Session, f frame.Frame) {
	group, target := f.Username, f.Content

	member, err := s.store.IsMemberOfGroup(group, sess.Username)
	if err != nil {
		log.Printf("group-remove membership check error for %q/%q: %v", sess.Username, group, err)
		return
	}
	if !member {
		return
	}

	ok, err := s.store.RemoveUserFromGroup(group, target)
	if err != nil {
		log.Printf("group-remove error from %q on %q: %v", sess.Username, group, err)
		ok = false
	}
	s.alog.Event("group-remove", sess.Username, ok, "group", group, "target", target)
	s.sendAuthResponse(sess, ok)
}

func (s *Server) handleGroupLeave(sess *roster.Session, f frame.Frame) {
	group := f.Content
	ok, err := s.store.RemoveUserFromGroup(group, sess.Username)
	if err != nil {
		log.Printf("group-leave error from %q on %q: %v", sess.Username, group, err)
		ok = false
	}
	s.alog.Event("group-leave", sess.Username, ok, "group", group)
	s.sendAuthResponse(sess, ok)
}

// handleGroupMessage requires current membership; on success it
// persists the message and fans out a group-text frame, content
// "sender: body", to every other online member.
func (s *Server) handleGroupMessage(sess *roster.Session, f frame.Frame) {
	group := f.Username

	member, err := s.store.IsMemberOfGroup(group, sess.Username)
	if err != nil {
		log.Printf("group-message membership check error for %q/%q: %v", sess.Username, group, err)
		return
	}
	if !member {
		return
	}

	if _, err := s.store.SaveGroupMessage(group, sess.Username, f.Content); err != nil {
		log.Printf("group-message persist error from %q on %q: %v", sess.Username, group, err)
		return
	}
	s.alog.Event("group-message", sess.Username, true, "group", group)

	members, err := s.store.ListGroupMembers(group)
	if err != nil {
		log.Printf("group-message member list error for %q: %v", group, err)
		return
	}

	content := fmt.Sprintf("%s: %s", sess.Username, f.Content)
	buf := frame.Encode(frame.TypeGroupText, group, content)
	s.roster.DeliverExcept(members, sess.Username, buf)
}

func (s *Server) handleGroupHistoryRequest(sess *roster.Session, f frame.Frame) {
	group := f.Username

	member, err := s.store.IsMemberOfGroup(group, sess.Username)
	if err != nil {
		log.Printf("group-history-request membership check error for %q/%q: %v", sess.Username, group, err)
		return
	}
	if !member {
		return
	}

	messages, err := s.store.GetGroupHistory(group, historyLimit)
	if err != nil {
		log.Printf("group-history-request error for %q: %v", group, err)
		messages = nil
	}

	buf := frame.Encode(frame.TypeGroupHistoryResponse, group, renderGroupHistory(messages))
	_ = sess.Send(buf)
}

func (s *Server) handleGroupMembersRequest(sess *roster.Session, f frame.Frame) {
	group := f.Username

	member, err := s.store.IsMemberOfGroup(group, sess.Username)
	if err != nil {
		log.Printf("group-members-request membership check error for %q/%q: %v", sess.Username, group, err)
		return
	}
	if !member {
		return
	}

	members, err := s.store.ListGroupMembers(group)
	if err != nil {
		log.Printf("group-members-request error for %q: %v", group, err)
		members = nil
	}

	buf := frame.Encode(frame.TypeGroupMembersResponse, group, strings.Join(members, ","))
	_ = sess.Send(buf)
}

func (s *Server) handleGroupListRequest(sess *roster.Session, f frame.Frame) {
	groups, err := s.store.ListGroupsForUser(sess.Username)
	if err != nil {
		log.Printf("group-list-request error for %q: %v", sess.Username, err)
		groups = nil
	}

	buf := frame.Encode(frame.TypeGroupListResponse, "Server", strings.Join(groups, ","))
	_ = sess.Send(buf)
}
