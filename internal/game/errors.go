/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "errors"

var (
	ErrUnknownRoom   = errors.New("unknown room code")
	ErrRoomFull      = errors.New("room is full")
	ErrRoomClosed    = errors.New("room has been closed")
	ErrUnauthorized  = errors.New("only the room creator can start the game")
	ErrNotInLobby    = errors.New("game has already been started")
	ErrNotInRoom     = errors.New("player is not in this room")
	ErrCodeCollision = errors.New("unable to generate an unused room code")
)
