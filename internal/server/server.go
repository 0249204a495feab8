// Package server implements the chat server's connection lifecycle:
// AcceptLoop, AuthGate, RequestDispatcher, and DeliveryFanOut. Grounded
// on the teacher's server.Server (accept loop, per-connection goroutine,
// sessions map) generalized to the spec's roster, persistence, and
// wire-frame contracts.
package server

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"msimchat/internal/activitylog"
	"msimchat/internal/config"
	"msimchat/internal/metrics"
	"msimchat/internal/roster"
	"msimchat/internal/store"
)

type Server struct {
	cfg    *config.Config
	store  *store.Store
	roster *roster.Roster
	alog   *activitylog.Log

	listener net.Listener
	wg       sync.WaitGroup
	closing  chan struct{}
}

func New(cfg *config.Config, st *store.Store, alog *activitylog.Log) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		roster:  roster.New(cfg.SessionCap),
		alog:    alog,
		closing: make(chan struct{}),
	}
}

// Start binds the listening socket and spawns the accept loop. It
// returns once the bind succeeds; accept failures after that point are
// logged and the loop continues per spec.md §4.4/§7.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return err
	}
	s.listener = ln

	log.Printf("chat server listening on %s", ln.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

// Stop closes the listener and every live session, then waits for all
// in-flight session goroutines to exit.
func (s *Server) Stop() {
	close(s.closing)
	if s.listener != nil {
		s.listener.Close()
	}
	for _, sess := range s.roster.AllSessions() {
		sess.Conn.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			log.Printf("accept error: %v", err)
			continue
		}

		if s.roster.AtCapacity() {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection runs the AuthGate then, on success, the
// RequestDispatcher loop for one accepted connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	sess := &roster.Session{Conn: conn, Addr: conn.RemoteAddr().String()}

	username, ok := s.runAuthGate(sess)
	if !ok {
		return
	}
	sess.Username = username

	s.roster.Add(sess)
	metrics.ConnectedSessions.Set(float64(s.roster.Size()))
	log.Printf("user %q joined from %s", username, sess.Addr)

	defer func() {
		s.roster.Remove(sess)
		metrics.ConnectedSessions.Set(float64(s.roster.Size()))
		log.Printf("user %q disconnected from %s", username, sess.Addr)
		s.alog.Event("disconnect", username, true)
		if err := s.store.UpdateLastOffline(username, time.Now()); err != nil {
			log.Printf("update last_offline error for %q: %v", username, err)
		}
	}()

	s.dispatchLoop(sess)
}

// GetStats mirrors the teacher's control-socket stats command: a
// roster size and the live usernames.
func (s *Server) GetStats() string {
	names := s.roster.AllUsernamesExcept("")
	return fmt.Sprintf("connections=%d,users=%s", s.roster.Size(), strings.Join(names, ";"))
}
