/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const maxCodeAttempts = 16

// Options are the per-room limits every new room is created with.
type Options struct {
	Capacity   int
	Rounds     int
	RoundDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Capacity:   12,
		Rounds:     10,
		RoundDelay: time.Second,
	}
}

// Registry owns every live room, keyed by room code.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	catalog *Catalog
	codes   CodeGenerator
	notify  Notifier
	sched   *Scheduler
	opts    Options
}

func NewRegistry(catalog *Catalog, codes CodeGenerator, notify Notifier, opts Options) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		catalog: catalog,
		codes:   codes,
		notify:  notify,
		sched:   NewScheduler(),
		opts:    opts,
	}
}

// Create opens an empty room for variant under a fresh code, with its
// prompt sequence drawn from the catalog.
func (reg *Registry) Create(variant string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for range maxCodeAttempts {
		code, err := reg.codes()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}

		if _, exists := reg.rooms[code]; exists || code == "" {
			continue
		}

		room := newRoom(code, variant, reg.catalog.Draw(variant, reg.opts.Rounds), reg.opts, reg.notify, reg.sched)
		reg.rooms[code] = room

		return room, nil
	}

	return nil, ErrCodeCollision
}

func (reg *Registry) Lookup(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[code]
	return room, ok
}

// Get is Lookup returning ErrUnknownRoom for a missing code.
func (reg *Registry) Get(code string) (*Room, error) {
	room, ok := reg.Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoom, code)
	}

	return room, nil
}

// RemoveIfEmpty deletes the room under code once nobody is seated in it.
func (reg *Registry) RemoveIfEmpty(code string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[code]
	if !ok || room.Len() > 0 {
		return false
	}

	reg.removeLocked(code, room)

	return true
}

// Reap removes rooms idle since before cutoff and returns their codes.
func (reg *Registry) Reap(cutoff time.Time) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var reaped []string
	for code, room := range reg.rooms {
		if room.LastActive().Before(cutoff) {
			reg.removeLocked(code, room)
			reaped = append(reaped, code)
		}
	}

	return reaped
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.rooms)
}

// Close tears down every room and stops all deferred work.
func (reg *Registry) Close() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for code, room := range reg.rooms {
		reg.removeLocked(code, room)
	}
	reg.sched.Stop()
}

func (reg *Registry) removeLocked(code string, room *Room) {
	delete(reg.rooms, code)
	reg.sched.Cancel(code)
	room.close()
}

// IsUnknownRoom reports whether err means the room does not (or no longer) exist.
func IsUnknownRoom(err error) bool {
	return errors.Is(err, ErrUnknownRoom) || errors.Is(err, ErrRoomClosed)
}
