// Package registry holds the process-wide lobby state: which user each live
// connection is logged in as, and the set of chat rooms.
//
// The maps are private; every exported operation runs as one critical section
// so the uniqueness invariants on user names and room names hold under
// concurrent use.
package registry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ConnID identifies one live client connection.
type ConnID string

var (
	// ErrRegistryClosed is returned by every operation after Close.
	ErrRegistryClosed = errors.New("registry closed")
	// ErrNotLoggedIn is returned when a room operation comes from a connection with no session.
	ErrNotLoggedIn = errors.New("connection is not logged in")
	// ErrRoomNotFound is returned when joining a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrWrongPassword is returned when a room password does not match.
	ErrWrongPassword = errors.New("wrong room password")
	// ErrInvalidName is returned for empty user or room names.
	ErrInvalidName = errors.New("name must not be empty")
	// ErrRoomLimit is returned when creating a room would exceed the room cap.
	ErrRoomLimit = errors.New("room limit reached")
)

// DefaultMaxRooms is the largest room count a room list frame can carry.
const DefaultMaxRooms = math.MaxUint16

// AlreadyLoggedInError reports a login for a name bound to another connection.
type AlreadyLoggedInError struct {
	Name string
}

func (e *AlreadyLoggedInError) Error() string {
	return fmt.Sprintf("user %q is already logged in", e.Name)
}

// RoomExistsError reports an attempt to create a room whose name is taken.
type RoomExistsError struct {
	Name string
}

func (e *RoomExistsError) Error() string {
	return fmt.Sprintf("room %q already exists", e.Name)
}

// RoomInfo is a point-in-time copy of one room.
type RoomInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Protected   bool     `json:"protected"`
	Members     []string `json:"members"`
}

type session struct {
	user string
	room string
}

type room struct {
	name         string
	description  string
	passwordHash []byte
	members      map[string]bool
}

func (r *room) info() RoomInfo {
	members := make([]string, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	sort.Strings(members)
	return RoomInfo{
		Name:        r.name,
		Description: r.description,
		Protected:   r.passwordHash != nil,
		Members:     members,
	}
}

// Registry tracks logged-in sessions and rooms.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[ConnID]*session // conn → session
	owners   map[string]ConnID   // user name → conn
	rooms    map[string]*room    // room name → room
	order    []string            // room names in creation order
	closed   bool

	passwordCost int
	maxRooms     int
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxRooms caps the number of rooms. Values outside [1, DefaultMaxRooms]
// are ignored.
func WithMaxRooms(n int) Option {
	return func(r *Registry) {
		if n > 0 && n <= DefaultMaxRooms {
			r.maxRooms = n
		}
	}
}

// New creates an empty Registry that hashes room passwords with the given bcrypt cost.
//
// Precondition: passwordCost must be within [bcrypt.MinCost, bcrypt.MaxCost].
func New(passwordCost int, opts ...Option) *Registry {
	r := &Registry{
		sessions:     make(map[ConnID]*session),
		owners:       make(map[string]ConnID),
		rooms:        make(map[string]*room),
		passwordCost: passwordCost,
		maxRooms:     DefaultMaxRooms,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Login binds name to conn. Any session conn already holds is evicted first,
// in the same critical section.
//
// Postcondition: On success returns the number of logged-in users. If name is
// bound to a different connection returns *AlreadyLoggedInError and no binding
// changes.
func (r *Registry) Login(conn ConnID, name string) (int, error) {
	if name == "" {
		return 0, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}

	if owner, ok := r.owners[name]; ok && owner != conn {
		return 0, &AlreadyLoggedInError{Name: name}
	}

	r.evictLocked(conn)
	r.sessions[conn] = &session{user: name}
	r.owners[name] = conn
	return len(r.sessions), nil
}

// Logout evicts the session bound to conn, removing the user from the room
// they occupied.
//
// Postcondition: Returns the evicted user name and true, or "" and false if
// conn had no session.
func (r *Registry) Logout(conn ConnID) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", false, ErrRegistryClosed
	}
	user, ok := r.evictLocked(conn)
	return user, ok, nil
}

func (r *Registry) evictLocked(conn ConnID) (string, bool) {
	sess, ok := r.sessions[conn]
	if !ok {
		return "", false
	}
	r.leaveRoomLocked(sess)
	delete(r.sessions, conn)
	delete(r.owners, sess.user)
	return sess.user, true
}

func (r *Registry) leaveRoomLocked(sess *session) {
	if sess.room == "" {
		return
	}
	if rm, ok := r.rooms[sess.room]; ok {
		delete(rm.members, sess.user)
	}
	sess.room = ""
}

// SessionUser returns the user name bound to conn.
func (r *Registry) SessionUser(conn ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[conn]
	if !ok {
		return "", false
	}
	return sess.user, true
}

// UserCount returns the number of logged-in users.
func (r *Registry) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CreateRoom creates a room owned by the user logged in on conn and moves
// that user into it. A nil or empty password creates an open room.
//
// Postcondition: Returns the new room, *RoomExistsError if the name is taken
// (the existing room is left untouched), ErrRoomLimit, or ErrNotLoggedIn.
func (r *Registry) CreateRoom(conn ConnID, name, description string, password *string) (RoomInfo, error) {
	if name == "" {
		return RoomInfo{}, ErrInvalidName
	}
	hash, err := r.hashPassword(password)
	if err != nil {
		return RoomInfo{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return RoomInfo{}, ErrRegistryClosed
	}

	sess, ok := r.sessions[conn]
	if !ok {
		return RoomInfo{}, ErrNotLoggedIn
	}
	if _, exists := r.rooms[name]; exists {
		return RoomInfo{}, &RoomExistsError{Name: name}
	}
	if len(r.order) >= r.maxRooms {
		return RoomInfo{}, ErrRoomLimit
	}

	r.leaveRoomLocked(sess)
	rm := &room{
		name:         name,
		description:  description,
		passwordHash: hash,
		members:      map[string]bool{sess.user: true},
	}
	r.rooms[name] = rm
	r.order = append(r.order, name)
	sess.room = name
	return rm.info(), nil
}

// SeedRoom creates a room with no members. It is used to preload rooms at
// startup. An empty password creates an open room.
//
// Postcondition: Returns *RoomExistsError if the name is taken, or ErrRoomLimit.
func (r *Registry) SeedRoom(name, description, password string) error {
	if name == "" {
		return ErrInvalidName
	}
	hash, err := r.hashPassword(&password)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.rooms[name]; exists {
		return &RoomExistsError{Name: name}
	}
	if len(r.order) >= r.maxRooms {
		return ErrRoomLimit
	}
	r.rooms[name] = &room{
		name:         name,
		description:  description,
		passwordHash: hash,
		members:      make(map[string]bool),
	}
	r.order = append(r.order, name)
	return nil
}

// JoinRoom moves the user logged in on conn into the named room. Protected
// rooms require the matching password; the bcrypt comparison runs outside the
// lock.
//
// Postcondition: Returns the joined room, or ErrRoomNotFound, ErrWrongPassword
// or ErrNotLoggedIn.
func (r *Registry) JoinRoom(conn ConnID, name, password string) (RoomInfo, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return RoomInfo{}, ErrRegistryClosed
	}
	rm, ok := r.rooms[name]
	var hash []byte
	if ok {
		hash = rm.passwordHash
	}
	r.mu.Unlock()

	if !ok {
		return RoomInfo{}, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	if hash != nil {
		if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
			return RoomInfo{}, fmt.Errorf("%w for %q", ErrWrongPassword, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return RoomInfo{}, ErrRegistryClosed
	}
	sess, ok := r.sessions[conn]
	if !ok {
		return RoomInfo{}, ErrNotLoggedIn
	}
	if sess.room != name {
		r.leaveRoomLocked(sess)
		rm.members[sess.user] = true
		sess.room = name
	}
	return rm.info(), nil
}

// Room returns a copy of the named room.
func (r *Registry) Room(name string) (RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[name]
	if !ok {
		return RoomInfo{}, false
	}
	return rm.info(), true
}

// SnapshotRooms returns every room in creation order, copied under one
// acquisition of the lock.
func (r *Registry) SnapshotRooms() ([]RoomInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	out := make([]RoomInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.rooms[name].info())
	}
	return out, nil
}

// Close rejects all further operations with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// hashPassword returns nil for an open room.
func (r *Registry) hashPassword(password *string) ([]byte, error) {
	if password == nil || *password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(*password), r.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hashing room password: %w", err)
	}
	return hash, nil
}
