/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "time"

// Broadcast event names, shared with clients.
const (
	EventNewPlayer = "new-player"
	EventStart     = "start"
	EventQuestion  = "question"
	EventResult    = "result"
	EventGameEnd   = "game-end"
)

// Notifier delivers room broadcasts to every member of a room.
// Broadcast is called with the room locked, so it must never block.
type Notifier interface {
	Broadcast(code, event string, data any)
}

type QuestionMessage struct {
	Question string `json:"question"`
	Round    int    `json:"round"` // 1-based
}

type ResultMessage struct {
	Winners []Player       `json:"winners"`
	Votes   []Vote         `json:"votes"`
	Scores  map[string]int `json:"scores"`
	Players []Player       `json:"players"`
}

type GameEndMessage struct {
	Scores  map[string]int `json:"scores"`
	Players []Player       `json:"players"`
}

// Snapshot is the full room view sent when a game starts.
type Snapshot struct {
	Code       string         `json:"gameCode"`
	Variant    string         `json:"gameType"`
	State      State          `json:"state"`
	Round      int            `json:"round"`
	MaxRounds  int            `json:"maxQuestions"`
	MaxPlayers int            `json:"maxPlayers"`
	Players    []Player       `json:"players"`
	Scores     map[string]int `json:"scores"`
	Finished   bool           `json:"finished"`
	CreatedAt  time.Time      `json:"created_at"`
}
