/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

// Player is a single connection's seat in a room.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
	Score   int    `json:"score"`
	Creator bool   `json:"creator"`
}

// Option is the answer a player picks for a prompt. Every option
// names another player in the room.
type Option struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Answer struct {
	PlayerID string `json:"playerId"`
	Option   Option `json:"answer"`
}

type Vote struct {
	Voter    string `json:"voter"`
	VotedFor string `json:"votedFor"`
}
