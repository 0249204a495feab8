// Package store is the PersistenceStore: a single SQLite-backed handle
// for accounts, friendships, groups, memberships, and message history.
// Every exported method except ListAllUsersWithStatus is atomic with
// respect to every other one — guarded by one mutex, matching the
// teacher's single-handle contract (the connection pool is additionally
// pinned to one open connection so SQLite itself never interleaves
// writers behind our backs).
package store

import (
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is not returned by any Store method: an operation that
// requires an existing row (membership, pending request, contact) that
// isn't there reports a false success flag with a nil error instead.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

type DirectMessage struct {
	ID        int64
	Sender    string
	Receiver  string
	Body      string
	Timestamp time.Time
}

type GroupMessage struct {
	ID        int64
	Group     string
	Sender    string
	Body      string
	Timestamp time.Time
}

// FriendEntry is one row of an annotated friend listing. Status is one
// of "accepted", "outgoing" (pending, owner is the requester) or
// "pending" (owner is the recipient, i.e. an incoming request).
type FriendEntry struct {
	Name   string
	Status string
}

// UserStatusEntry is one row of the all-users-with-status listing.
type UserStatusEntry struct {
	Name   string
	Status string
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			last_online TEXT,
			last_offline TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			owner TEXT NOT NULL,
			other TEXT NOT NULL,
			status TEXT NOT NULL,
			PRIMARY KEY (owner, other)
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_name TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (group_name, member)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_name TEXT NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver)`,
		`CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages(group_name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

// AddUser creates an account. Fails when username is empty after
// trimming or already exists.
func (s *Store) AddUser(username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = trim(username)
	if username == "" {
		return false, nil
	}

	_, err := s.db.Exec(`INSERT INTO users (username, password) VALUES (?, ?)`, username, password)
	if err != nil {
		return false, nil // unique constraint violation or similar: treat as a plain failure, not an error
	}
	return true, nil
}

// VerifyUser returns true only when the stored row matches exactly.
func (s *Store) VerifyUser(username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored string
	err := s.db.QueryRow(`SELECT password FROM users WHERE username = ?`, trim(username)).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == password, nil
}

func (s *Store) ChangePassword(username, newPassword string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE users SET password = ? WHERE username = ?`, newPassword, trim(username))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteUser(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM users WHERE username = ?`, trim(username))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) UserExists(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE username = ?`, trim(username)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateLastOnline stamps username's last-online timestamp. Called on
// every successful authentication.
func (s *Store) UpdateLastOnline(username string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE users SET last_online = ? WHERE username = ?`, t.UTC().Format(time.RFC3339Nano), trim(username))
	return err
}

// UpdateLastOffline stamps username's last-offline timestamp. Called
// when a session's connection is torn down.
func (s *Store) UpdateLastOffline(username string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE users SET last_offline = ? WHERE username = ?`, t.UTC().Format(time.RFC3339Nano), trim(username))
	return err
}

// SendFriendRequest unconditionally inserts or replaces (from, to,
// pending). Idempotent; does not validate that to is a real account.
func (s *Store) SendFriendRequest(from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO friends (owner, other, status) VALUES (?, ?, 'pending')`, from, to)
	if err != nil {
		return false, err
	}
	return true, nil
}

// AcceptFriendRequest succeeds only when (from, to, pending) exists,
// then writes both mirrored accepted rows.
func (s *Store) AcceptFriendRequest(from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status string
	err := s.db.QueryRow(`SELECT status FROM friends WHERE owner = ? AND other = ?`, from, to).Scan(&status)
	if err == sql.ErrNoRows || status != "pending" {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO friends (owner, other, status) VALUES (?, ?, 'accepted')`, from, to); err != nil {
		return false, err
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO friends (owner, other, status) VALUES (?, ?, 'accepted')`, to, from); err != nil {
		return false, err
	}
	return true, nil
}

// RefuseFriendRequest deletes (from, to, pending) if present; fails
// when no such pending row.
func (s *Store) RefuseFriendRequest(from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM friends WHERE owner = ? AND other = ? AND status = 'pending'`, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveFriend deletes both directions.
func (s *Store) RemoveFriend(a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM friends WHERE (owner = ? AND other = ?) OR (owner = ? AND other = ?)`,
		a, b, b, a,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListFriends returns, for the caller, accepted and outgoing-pending
// rows owned by user plus pending rows targeting user (tagged
// "pending", i.e. incoming). It does not consult the session roster:
// callers annotate online status themselves after releasing this
// call, per the lock-ordering fix in spec.md §5.
func (s *Store) ListFriends(user string) ([]FriendEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]string)

	rows, err := s.db.Query(`SELECT other, status FROM friends WHERE owner = ?`, user)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var other, status string
		if err := rows.Scan(&other, &status); err != nil {
			rows.Close()
			return nil, err
		}
		if status == "accepted" {
			entries[other] = "accepted"
		} else {
			entries[other] = "outgoing"
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows2, err := s.db.Query(`SELECT owner FROM friends WHERE other = ? AND status = 'pending'`, user)
	if err != nil {
		return nil, err
	}
	for rows2.Next() {
		var from string
		if err := rows2.Scan(&from); err != nil {
			rows2.Close()
			return nil, err
		}
		if _, ok := entries[from]; !ok {
			entries[from] = "pending"
		}
	}
	if err := rows2.Err(); err != nil {
		rows2.Close()
		return nil, err
	}
	rows2.Close()

	out := make([]FriendEntry, 0, len(entries))
	for name, status := range entries {
		out = append(out, FriendEntry{Name: name, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FriendStatus probes both directions and returns self, friend,
// outgoing, incoming, or none.
func (s *Store) FriendStatus(viewer, other string) (string, error) {
	if viewer == other {
		return "self", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var forward string
	err := s.db.QueryRow(`SELECT status FROM friends WHERE owner = ? AND other = ?`, viewer, other).Scan(&forward)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	if forward == "accepted" {
		return "friend", nil
	}
	if forward == "pending" {
		return "outgoing", nil
	}

	var backward string
	err = s.db.QueryRow(`SELECT status FROM friends WHERE owner = ? AND other = ?`, other, viewer).Scan(&backward)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	if backward == "pending" {
		return "incoming", nil
	}

	return "none", nil
}

// ListAllUsersWithStatus iterates all accounts alphabetically, each
// annotated with FriendStatus(viewer, name). The account list and each
// status are read under separate acquisitions of the store lock, so the
// result is not one atomic snapshot: other store operations can run
// between those reads.
func (s *Store) ListAllUsersWithStatus(viewer string) ([]UserStatusEntry, error) {
	s.mu.Lock()
	rows, err := s.db.Query(`SELECT username FROM users ORDER BY username ASC`)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			s.mu.Unlock()
			return nil, err
		}
		names = append(names, name)
	}
	err = rows.Err()
	rows.Close()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]UserStatusEntry, 0, len(names))
	for _, name := range names {
		status, err := s.FriendStatus(viewer, name)
		if err != nil {
			return nil, err
		}
		out = append(out, UserStatusEntry{Name: name, Status: status})
	}
	return out, nil
}

// AreFriends is true when an accepted edge exists in either direction.
func (s *Store) AreFriends(a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM friends WHERE status = 'accepted' AND ((owner = ? AND other = ?) OR (owner = ? AND other = ?))`,
		a, b, b, a,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) SaveMessage(sender, receiver, body string) (DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO messages (sender, receiver, body, timestamp) VALUES (?, ?, ?, ?)`,
		sender, receiver, body, ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return DirectMessage{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return DirectMessage{}, err
	}
	return DirectMessage{ID: id, Sender: sender, Receiver: receiver, Body: body, Timestamp: ts}, nil
}

// GetConversationHistory returns, oldest-first, at most limit messages
// where the pair is (a, b) in either direction.
func (s *Store) GetConversationHistory(a, b string, limit int) ([]DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, sender, receiver, body, timestamp FROM messages
		 WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		 ORDER BY id ASC LIMIT ?`,
		a, b, b, a, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DirectMessage
	for rows.Next() {
		var m DirectMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &ts); err != nil {
			return nil, err
		}
		m.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateGroup(name, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = trim(name)
	if name == "" {
		return false, nil
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM groups WHERE name = ?`, name).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	if _, err := s.db.Exec(`INSERT INTO groups (name, owner) VALUES (?, ?)`, name, owner); err != nil {
		return false, err
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO group_members (group_name, member) VALUES (?, ?)`, name, owner); err != nil {
		return false, err
	}
	return true, nil
}

// AddUserToGroup fails when group does not exist.
func (s *Store) AddUserToGroup(group, user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM groups WHERE name = ?`, group).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO group_members (group_name, member) VALUES (?, ?)`, group, user); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveUserFromGroup fails when no such membership row.
func (s *Store) RemoveUserFromGroup(group, user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM group_members WHERE group_name = ? AND member = ?`, group, user)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) IsMemberOfGroup(group, user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM group_members WHERE group_name = ? AND member = ?`, group, user).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListGroupsForUser(user string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT group_name FROM group_members WHERE member = ? ORDER BY group_name ASC`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) ListGroupMembers(group string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT member FROM group_members WHERE group_name = ? ORDER BY member ASC`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) SaveGroupMessage(group, sender, body string) (GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO group_messages (group_name, sender, body, timestamp) VALUES (?, ?, ?, ?)`,
		group, sender, body, ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return GroupMessage{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return GroupMessage{}, err
	}
	return GroupMessage{ID: id, Group: group, Sender: sender, Body: body, Timestamp: ts}, nil
}

func (s *Store) GetGroupHistory(group string, limit int) ([]GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, group_name, sender, body, timestamp FROM group_messages
		 WHERE group_name = ? ORDER BY id ASC LIMIT ?`,
		group, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupMessage
	for rows.Next() {
		var m GroupMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.Group, &m.Sender, &m.Body, &ts); err != nil {
			return nil, err
		}
		m.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
