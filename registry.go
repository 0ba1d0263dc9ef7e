package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// Room pairs one GameSession with the set of clients connected to it.
// The room mutex serializes every mutating operation on the session, so
// two simultaneous reveals of the same answer cannot double-count and
// two simultaneous joins cannot pick the same free team from a stale
// roster. Independent rooms share nothing and proceed in parallel.
type Room struct {
	mu sync.Mutex

	session    *GameSession
	clients    map[*Client]bool
	lastActive time.Time
}

func newRoom(session *GameSession) *Room {
	return &Room{
		session:    session,
		clients:    make(map[*Client]bool),
		lastActive: time.Now(),
	}
}

// broadcastLocked queues msg on every client in the room, dropping any
// client whose send buffer is full.
func (rm *Room) broadcastLocked(msg any) {
	for client := range rm.clients {
		if !client.trySend(msg) {
			delete(rm.clients, client)
		}
	}
}

// sendLocked queues msg on a single client, dropping it if stalled.
func (rm *Room) sendLocked(c *Client, msg any) {
	if !c.trySend(msg) {
		delete(rm.clients, c)
	}
}

// closeAll disconnects all clients of this room (used by the reaper).
func (rm *Room) closeAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for c := range rm.clients {
		c.shutdown()
		delete(rm.clients, c)
	}
}

// GameManager maps game codes to rooms. Entries are only ever inserted;
// rooms live for the process lifetime unless an idle timeout is set.
type GameManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	idleTimeout time.Duration
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		rooms:       make(map[string]*Room),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

// create builds a session under a fresh collision-checked code and
// registers its room. Existing entries are never overwritten.
func (gm *GameManager) create(teamCount int, teamNames, teamColors, difficulties []string, totalRounds int) (*Room, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	code := gm.newGameCodeLocked()

	session, err := newGameSession(code, teamCount, teamNames, teamColors, difficulties, totalRounds)
	if err != nil {
		return nil, err
	}

	room := newRoom(session)
	gm.rooms[code] = room

	return room, nil
}

// room looks up the room for a game code.
func (gm *GameManager) room(code string) (*Room, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	rm, ok := gm.rooms[code]
	return rm, ok
}

// newGameCodeLocked generates a crypto-random game code and ensures it
// doesn't collide with an existing room.
func (gm *GameManager) newGameCodeLocked() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		if _, exists := gm.rooms[code]; !exists {
			return code
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		gm.reapIdle(time.Now().Add(-gm.idleTimeout))
	}
}

// reapIdle evicts every room whose last activity predates cutoff.
func (gm *GameManager) reapIdle(cutoff time.Time) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for code, rm := range gm.rooms {
		rm.mu.Lock()
		last := rm.lastActive
		rm.mu.Unlock()

		if last.Before(cutoff) {
			delete(gm.rooms, code)
			go rm.closeAll()
		}
	}
}
