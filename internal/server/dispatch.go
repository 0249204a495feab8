package server

import (
	"io"
	"log"

	"msimchat/internal/frame"
	"msimchat/internal/metrics"
	"msimchat/internal/roster"
)

// handlerFunc is one entry of the RequestDispatcher's type-code table,
// replacing the long if/else chain of the original source (§9's
// "Polymorphism over type codes" redesign flag).
type handlerFunc func(s *Server, sess *roster.Session, f frame.Frame)

var dispatchTable = map[int32]handlerFunc{
	frame.TypeText:                  (*Server).handleBroadcastText,
	frame.TypeFriendRequest:         (*Server).handleFriendRequest,
	frame.TypeFriendAccept:          (*Server).handleFriendAccept,
	frame.TypeFriendRefuse:          (*Server).handleFriendRefuse,
	frame.TypeFriendListRequest:     (*Server).handleFriendListRequest,
	frame.TypeFriendRemove:          (*Server).handleFriendRemove,
	frame.TypeAllUsersStatusRequest: (*Server).handleAllUsersStatusRequest,
	frame.TypeDirectMessage:         (*Server).handleDirectMessage,
	frame.TypeHistoryRequest:        (*Server).handleHistoryRequest,
	frame.TypeGroupCreate:           (*Server).handleGroupCreate,
	frame.TypeGroupAdd:              (*Server).handleGroupAdd,
	frame.TypeGroupRemove:           (*Server).handleGroupRemove,
	frame.TypeGroupLeave:            (*Server).handleGroupLeave,
	frame.TypeGroupMessage:          (*Server).handleGroupMessage,
	frame.TypeGroupHistoryRequest:   (*Server).handleGroupHistoryRequest,
	frame.TypeGroupMembersRequest:   (*Server).handleGroupMembersRequest,
	frame.TypeGroupListRequest:      (*Server).handleGroupListRequest,
}

// dispatchLoop reads frames from sess until the peer disconnects,
// demultiplexing on the type code. Responses are written before the
// next request is read, since everything here runs synchronously on
// this session's own goroutine.
func (s *Server) dispatchLoop(sess *roster.Session) {
	for {
		f, err := frame.Read(sess.Conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("read error from %q: %v", sess.Username, err)
			}
			return
		}

		if f.Type == frame.TypeDisconnect {
			return
		}

		handler, ok := dispatchTable[f.Type]
		if !ok {
			// Silent ignore on unknown type codes, per spec.md §4.6.
			continue
		}

		metrics.RequestsTotal.WithLabelValues(typeLabel(f.Type)).Inc()
		handler(s, sess, f)
	}
}

func typeLabel(t int32) string {
	switch t {
	case frame.TypeText:
		return "text"
	case frame.TypeFriendRequest:
		return "friend-request"
	case frame.TypeFriendAccept:
		return "friend-accept"
	case frame.TypeFriendRefuse:
		return "friend-refuse"
	case frame.TypeFriendListRequest:
		return "friend-list-request"
	case frame.TypeFriendRemove:
		return "friend-remove"
	case frame.TypeAllUsersStatusRequest:
		return "all-users-status-request"
	case frame.TypeDirectMessage:
		return "direct-message"
	case frame.TypeHistoryRequest:
		return "history-request"
	case frame.TypeGroupCreate:
		return "group-create"
	case frame.TypeGroupAdd:
		return "group-add"
	case frame.TypeGroupRemove:
		return "group-remove"
	case frame.TypeGroupLeave:
		return "group-leave"
	case frame.TypeGroupMessage:
		return "group-message"
	case frame.TypeGroupHistoryRequest:
		return "group-history-request"
	case frame.TypeGroupMembersRequest:
		return "group-members-request"
	case frame.TypeGroupListRequest:
		return "group-list-request"
	default:
		return "unknown"
	}
}

// handleBroadcastText fans content out to every session in the roster
// that belongs to another user (the sender's own sessions are skipped)
// as a text frame attributed to the sender. Not persisted.
func (s *Server) handleBroadcastText(sess *roster.Session, f frame.Frame) {
	targets := s.roster.AllUsernamesExcept(sess.Username)
	buf := frame.Encode(frame.TypeText, sess.Username, f.Content)
	s.roster.DeliverExcept(targets, sess.Username, buf)
}
