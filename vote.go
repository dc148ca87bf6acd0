// thevote
//
// Players vote on "who is most likely to..." prompts. One player creates a
// room and shares its code; others join by code; the creator starts; every
// round each seated player votes for someone in the room and the most
// voted player(s) earn a point.
//
// Features:
// - Single websocket endpoint: /vote/ws, JSON frames {"event", "data"}
// - Rooms keyed by crypto-random 5-char codes, capped at 12 players
// - Only the creator may start; a finished room stays finished
// - Rounds close when every seated player has answered, ties credit everyone
// - Disconnects unseat the player and re-check the open round
// - Rooms are reaped when empty, or after a configurable idle timeout
// - QR code for a room's join link at /vote/qr/:code, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/thevote/internal/game"
)

// Client-to-server events.
const (
	eventCreateGame = "create-game"
	eventJoinGame   = "join-game"
	eventStartGame  = "start-game"
	eventAnswer     = "answer"
)

// Server-to-client unicast events.
const (
	eventConnected      = "connected"
	eventGameCode       = "gameCode"
	eventInit           = "init"
	eventUnknownCode    = "unknownCode"
	eventTooManyPlayers = "tooManyPlayers"
	eventError          = "error"
)

const (
	sendBuffer   = 32
	maxFrameSize = 8 << 10
)

var errMalformed = errors.New("malformed payload")

// Envelope is every frame on the wire, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type ConnectedMessage struct {
	ID string `json:"id"`
}

// Messages coming from clients
type CreateGameRequest struct {
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	GameType string `json:"gameType"`
}

type JoinGameRequest struct {
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	RoomCode string `json:"roomCode"`
	RoomName string `json:"roomname"` // older clients
}

type StartGameRequest struct {
	RoomCode string `json:"roomCode"`
}

type AnswerRequest struct {
	RoomCode string      `json:"roomCode"`
	RoomName string      `json:"roomname"` // older clients
	PlayerID string      `json:"playerId"`
	Question string      `json:"question"`
	Answer   game.Option `json:"answer"`
}

type Client struct {
	conn *websocket.Conn
	send chan outbound
	id   string
}

// push queues a unicast message, dropping the client if it can't keep up.
func (c *Client) push(event string, data any) {
	select {
	case c.send <- outbound{Event: event, Data: data}:
	default:
		_ = c.conn.Close()
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Hub tracks which clients are members of which room and fans room
// broadcasts out to them. Delivery is best-effort and never blocks.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func newHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) join(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[code] == nil {
		h.rooms[code] = make(map[*Client]bool)
	}
	h.rooms[code][c] = true
}

func (h *Hub) leave(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[code]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, code)
		}
	}
}

func (h *Hub) size(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[code])
}

// Broadcast implements game.Notifier.
func (h *Hub) Broadcast(code, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := outbound{Event: event, Data: data}
	for client := range h.rooms[code] {
		select {
		case client.send <- msg:
		default:
			_ = client.conn.Close()
		}
	}
}

// closeRoom disconnects every member of code (used by the reaper).
func (h *Hub) closeRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[code] {
		_ = c.conn.Close()
	}
	delete(h.rooms, code)
}

// Dispatcher routes client events to the rooms they target.
type Dispatcher struct {
	cfg      *Config
	hub      *Hub
	registry *game.Registry
	sessions *game.Sessions
	upgrader websocket.Upgrader
}

func newDispatcher(cfg *Config, catalog *game.Catalog) *Dispatcher {
	hub := newHub()

	d := &Dispatcher{
		cfg: cfg,
		hub: hub,
		registry: game.NewRegistry(catalog, game.NewCodeGenerator(cfg.codeLength), hub, game.Options{
			Capacity:   cfg.maxPlayers,
			Rounds:     cfg.rounds,
			RoundDelay: cfg.roundDelay,
		}),
		sessions: game.NewSessions(),
	}

	d.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     d.checkOrigin,
	}

	return d
}

func (d *Dispatcher) checkOrigin(r *http.Request) bool {
	if d.cfg.allowedOrigin == "" {
		return true
	}

	return strings.EqualFold(strings.TrimSuffix(r.Header.Get("Origin"), "/"), d.cfg.allowedOrigin)
}

// handle runs one inbound event. Nothing a client sends may take the
// process down, so panics are turned into an error reply.
func (d *Dispatcher) handle(c *Client, env Envelope) {
	defer func() {
		if p := recover(); p != nil {
			logf(d.cfg, "ERROR: Recovered from %v while handling %q from %s", p, env.Event, c.id)
			c.push(eventError, ErrorMessage{Message: "Something went wrong."})
		}
	}()

	var err error
	switch env.Event {
	case eventCreateGame:
		err = d.createGame(c, env.Data)
		if err != nil && !errors.Is(err, errMalformed) {
			err = fmt.Errorf("Failed to create game: %w", err)
		}
	case eventJoinGame:
		err = d.joinGame(c, env.Data)
	case eventStartGame:
		err = d.startGame(c, env.Data)
	case eventAnswer:
		err = d.answer(c, env.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", errMalformed, env.Event)
	}

	if err != nil {
		d.reply(c, env.Event, err)
	}
}

// reply turns an operation's error into the unicast the client expects.
func (d *Dispatcher) reply(c *Client, event string, err error) {
	logf(d.cfg, "GAMES: %s from %s failed: %v", event, c.id, err)

	switch {
	case event == eventJoinGame && game.IsUnknownRoom(err):
		c.push(eventUnknownCode, nil)
	case errors.Is(err, game.ErrRoomFull):
		c.push(eventTooManyPlayers, nil)
	case errors.Is(err, game.ErrUnauthorized):
		c.push(eventError, ErrorMessage{Message: "Only room creator can start the game."})
	case game.IsUnknownRoom(err):
		c.push(eventError, ErrorMessage{Message: "That game does not exist."})
	case errors.Is(err, errMalformed):
		c.push(eventError, ErrorMessage{Message: "Malformed request."})
	default:
		c.push(eventError, ErrorMessage{Message: err.Error()})
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errMalformed)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	return nil
}

func (d *Dispatcher) createGame(c *Client, data json.RawMessage) error {
	var req CreateGameRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", errMalformed)
	}

	d.leaveCurrent(c)

	room, err := d.registry.Create(strings.ToLower(strings.TrimSpace(req.GameType)))
	if err != nil {
		return err
	}

	d.hub.join(room.Code(), c)

	if _, err := room.Admit(game.Player{ID: c.id, Name: req.Name, Avatar: req.Avatar}); err != nil {
		d.hub.leave(room.Code(), c)
		d.registry.RemoveIfEmpty(room.Code())

		return err
	}
	d.sessions.Bind(c.id, room.Code())

	c.push(eventGameCode, room.Code())

	logf(d.cfg, "GAMES: %q created %s (%q, %d prompts)", req.Name, room.Code(), room.Variant(), len(room.Prompts()))

	return nil
}

func (d *Dispatcher) joinGame(c *Client, data json.RawMessage) error {
	var req JoinGameRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	code := strings.TrimSpace(firstNonEmpty(req.RoomCode, req.RoomName))
	req.Name = strings.TrimSpace(req.Name)
	if code == "" || req.Name == "" {
		return fmt.Errorf("%w: name and roomCode are required", errMalformed)
	}

	room, err := d.registry.Get(code)
	if err != nil {
		return err
	}

	if current, ok := d.sessions.Lookup(c.id); !ok || current != code {
		d.leaveCurrent(c)
	}

	d.hub.join(code, c)

	roster, err := room.Admit(game.Player{ID: c.id, Name: req.Name, Avatar: req.Avatar})
	if err != nil {
		d.hub.leave(code, c)

		return err
	}
	d.sessions.Bind(c.id, code)

	c.push(eventInit, len(roster))

	logf(d.cfg, "GAMES: %q joined %s (%d/%d)", req.Name, code, len(roster), d.cfg.maxPlayers)

	return nil
}

func (d *Dispatcher) startGame(c *Client, data json.RawMessage) error {
	var code string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &code); err != nil {
			var req StartGameRequest
			if err := decode(data, &req); err != nil {
				return err
			}
			code = req.RoomCode
		}
	}

	code = strings.TrimSpace(code)
	if code == "" {
		if current, ok := d.sessions.Lookup(c.id); ok {
			code = current
		} else {
			return fmt.Errorf("%w: roomCode is required", errMalformed)
		}
	}

	room, err := d.registry.Get(code)
	if err != nil {
		return err
	}

	if !room.IsCreator(c.id) {
		return game.ErrUnauthorized
	}

	if err := room.Start(); err != nil {
		return err
	}

	logf(d.cfg, "GAMES: Started %s with %d players", code, room.Len())

	return nil
}

func (d *Dispatcher) answer(c *Client, data json.RawMessage) error {
	var req AnswerRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	if req.Answer.ID == "" {
		return fmt.Errorf("%w: answer.id is required", errMalformed)
	}

	code := strings.TrimSpace(firstNonEmpty(req.RoomCode, req.RoomName))
	if code == "" {
		code, _ = d.sessions.Lookup(c.id)
	}

	room, err := d.registry.Get(code)
	if err != nil {
		return err
	}

	// The voter is always the connection itself; playerId is informational.
	if room.Submit(c.id, req.Question, req.Answer) == game.Resolved {
		logf(d.cfg, "GAMES: Resolved round %d in %s", room.Round(), code)
	}

	return nil
}

// leaveCurrent unseats c from whatever room it is in.
func (d *Dispatcher) leaveCurrent(c *Client) {
	code, ok := d.sessions.Unbind(c.id)
	if !ok {
		return
	}

	d.hub.leave(code, c)

	room, ok := d.registry.Lookup(code)
	if !ok {
		return
	}

	remaining, err := room.Remove(c.id)
	if err != nil {
		return
	}

	if d.registry.RemoveIfEmpty(code) {
		logf(d.cfg, "GAMES: Removed empty game %s", code)
	} else {
		logf(d.cfg, "GAMES: Player %s left %s (%d remaining)", c.id, code, remaining)
	}
}

// reaperLoop periodically removes rooms that have been idle longer than the session timeout.
func (d *Dispatcher) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.sessionTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, code := range d.registry.Reap(time.Now().Add(-d.cfg.sessionTimeout)) {
				d.hub.closeRoom(code)
				logf(d.cfg, "GAMES: Reaped idle game %s", code)
			}
		}
	}
}

func (d *Dispatcher) close() {
	d.registry.Close()
}

func (d *Dispatcher) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(d.cfg, "ERROR: Websocket upgrade from %s failed: %v", realIP(r), err)
			return
		}
		conn.SetReadLimit(maxFrameSize)

		client := &Client{
			conn: conn,
			send: make(chan outbound, sendBuffer),
			id:   uuid.NewString(),
		}

		logf(d.cfg, "SERVE: Client %s connected from %s", client.id, realIP(r))

		client.push(eventConnected, ConnectedMessage{ID: client.id})

		go client.writePump()
		d.readPump(client)
	}
}

func (d *Dispatcher) readPump(c *Client) {
	defer func() {
		d.leaveCurrent(c)
		close(c.send)
		_ = c.conn.Close()

		logf(d.cfg, "SERVE: Client %s disconnected", c.id)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.push(eventError, ErrorMessage{Message: "Malformed request."})
			continue
		}

		d.handle(c, env)
	}
}

// qrHandler returns a PNG QR code of the join link for :code.
func (d *Dispatcher) qrHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if _, ok := d.registry.Lookup(code); !ok {
			http.Error(w, "unknown game", http.StatusNotFound)
			return
		}

		png, err := qrcode.Encode(joinLink(d.cfg, r, code), qrcode.Medium, 320)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(d.cfg, w)
		_, _ = w.Write(png)
	}
}

// joinLink is --join-url with the code appended, or this server's own root.
func joinLink(cfg *Config, r *http.Request, code string) string {
	if cfg.joinURL != "" {
		return cfg.joinURL + url.PathEscape(code)
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/?code=" + url.QueryEscape(code)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// registerVoteGame sets up routes so that:
//   - $path/ws          → websocket every client talks over
//   - $path/qr/:code    → PNG QR code of a game's join link
func registerVoteGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router) (*Dispatcher, error) {
	catalog, err := game.LoadCatalog(cfg.questions)
	if err != nil {
		return nil, err
	}

	d := newDispatcher(cfg, catalog)

	if cfg.sessionTimeout > 0 {
		go d.reaperLoop(ctx)
	}

	mux.GET(cfg.prefix+path+"/ws", d.serveWS())
	mux.GET(cfg.prefix+path+"/qr/:code", d.qrHandler())

	if cfg.questions != "" {
		logf(cfg, "START: Loaded prompts from %s", cfg.questions)
	}

	return d, nil
}
