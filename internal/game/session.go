/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "sync"

// Sessions maps a connected client to the room it currently sits in.
type Sessions struct {
	mu    sync.RWMutex
	rooms map[string]string
}

func NewSessions() *Sessions {
	return &Sessions{
		rooms: make(map[string]string),
	}
}

// Bind records that client sits in code, returning the room it sat in before.
func (s *Sessions) Bind(client, code string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.rooms[client]
	s.rooms[client] = code

	return previous
}

func (s *Sessions) Lookup(client string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.rooms[client]
	return code, ok
}

// Unbind forgets client and returns the room it was in.
func (s *Sessions) Unbind(client string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.rooms[client]
	delete(s.rooms, client)

	return code, ok
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rooms)
}
