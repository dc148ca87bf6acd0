package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/thevote/internal/game"
)

type testServer struct {
	*httptest.Server
	votes *Dispatcher
}

func newTestServer(t *testing.T, mutate func(c *Config)) *testServer {
	t.Helper()

	cfg := validConfig()
	cfg.rounds = 2
	cfg.roundDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mux := httprouter.New()
	votes, err := registerVoteGame(ctx, cfg, "/vote", mux)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		votes.close()
		cancel()
	})

	return &testServer{Server: srv, votes: votes}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (s *testServer) dial(t *testing.T) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/vote/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}

	var hello ConnectedMessage
	c.expect(eventConnected, &hello)
	if hello.ID == "" {
		t.Fatal("connected message carried no id")
	}
	c.id = hello.ID

	return c
}

func (c *testClient) send(event string, data any) {
	c.t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatal(err)
	}

	if err := c.conn.WriteJSON(Envelope{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("send %s: %v", event, err)
	}
}

// expect reads frames until one named event arrives, decoding its data into v.
func (c *testClient) expect(event string, v any) {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}

		if env.Event != event {
			continue
		}

		if v != nil {
			if err := json.Unmarshal(env.Data, v); err != nil {
				c.t.Fatalf("decoding %s: %v", event, err)
			}
		}

		return
	}
}

func (c *testClient) create(name string) string {
	c.t.Helper()

	c.send(eventCreateGame, CreateGameRequest{Name: name, Avatar: "cat", GameType: "general"})

	var code string
	c.expect(eventGameCode, &code)

	return code
}

func (c *testClient) join(name, code string) int {
	c.t.Helper()

	c.send(eventJoinGame, JoinGameRequest{Name: name, Avatar: "dog", RoomCode: code})

	var size int
	c.expect(eventInit, &size)

	return size
}

func TestFullGameOverWebsocket(t *testing.T) {
	srv := newTestServer(t, nil)

	alice := srv.dial(t)
	bob := srv.dial(t)

	code := alice.create("alice")
	if len(code) != 5 {
		t.Fatalf("game code %q", code)
	}

	if size := bob.join("bob", code); size != 2 {
		t.Errorf("init size = %d, want 2", size)
	}

	var roster []game.Player
	alice.expect(game.EventNewPlayer, &roster)
	if len(roster) != 2 || roster[0].ID != alice.id || !roster[0].Creator || roster[1].ID != bob.id {
		t.Fatalf("roster = %+v", roster)
	}

	bob.send(eventStartGame, code)
	var denied ErrorMessage
	bob.expect(eventError, &denied)
	if !strings.Contains(denied.Message, "creator") {
		t.Errorf("non-creator start error = %q", denied.Message)
	}

	alice.send(eventStartGame, code)

	var snapshot game.Snapshot
	bob.expect(game.EventStart, &snapshot)
	if snapshot.Code != code || len(snapshot.Players) != 2 || snapshot.MaxRounds != 2 {
		t.Errorf("start snapshot = %+v", snapshot)
	}

	for round := 1; round <= 2; round++ {
		var q game.QuestionMessage
		alice.expect(game.EventQuestion, &q)
		bob.expect(game.EventQuestion, nil)
		if q.Round != round || q.Question == "" {
			t.Fatalf("question = %+v, want round %d", q, round)
		}

		vote := game.Option{ID: alice.id, Name: "alice"}
		for _, c := range []*testClient{alice, bob, alice} {
			c.send(eventAnswer, AnswerRequest{RoomCode: code, PlayerID: c.id, Question: q.Question, Answer: vote})
		}

		var result game.ResultMessage
		bob.expect(game.EventResult, &result)
		if len(result.Winners) != 1 || result.Winners[0].ID != alice.id {
			t.Fatalf("winners = %+v", result.Winners)
		}
		if len(result.Votes) != 2 {
			t.Errorf("votes = %+v, want 2", result.Votes)
		}
		if result.Scores[alice.id] != round || result.Scores[bob.id] != 0 {
			t.Errorf("scores = %v after round %d", result.Scores, round)
		}
	}

	var end game.GameEndMessage
	alice.expect(game.EventGameEnd, &end)
	if end.Scores[alice.id] != 2 || len(end.Players) != 2 {
		t.Errorf("game-end = %+v", end)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	srv := newTestServer(t, nil)
	c := srv.dial(t)

	c.send(eventJoinGame, JoinGameRequest{Name: "bob", RoomCode: "ZZZZZ"})
	c.expect(eventUnknownCode, nil)
}

func TestJoinFullRoom(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.maxPlayers = 1 })

	alice := srv.dial(t)
	bob := srv.dial(t)

	code := alice.create("alice")

	bob.send(eventJoinGame, JoinGameRequest{Name: "bob", RoomCode: code})
	bob.expect(eventTooManyPlayers, nil)

	room, ok := srv.votes.registry.Lookup(code)
	if !ok {
		t.Fatal("room disappeared")
	}
	if room.Len() != 1 {
		t.Errorf("roster = %d after rejected join, want 1", room.Len())
	}
	if srv.votes.hub.size(code) != 1 {
		t.Errorf("hub members = %d, want 1", srv.votes.hub.size(code))
	}
}

func TestMalformedPayloads(t *testing.T) {
	srv := newTestServer(t, nil)
	c := srv.dial(t)

	var msg ErrorMessage

	c.send(eventJoinGame, nil)
	c.expect(eventError, &msg)

	c.send(eventCreateGame, map[string]string{"avatar": "cat"})
	c.expect(eventError, &msg)

	c.send("dance", map[string]string{})
	c.expect(eventError, &msg)

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	c.expect(eventError, &msg)
	if msg.Message != "Malformed request." {
		t.Errorf("error message = %q", msg.Message)
	}

	// The connection survives all of the above.
	if code := c.create("alice"); code == "" {
		t.Error("could not create a game after malformed requests")
	}
}

func TestStartUnknownRoom(t *testing.T) {
	srv := newTestServer(t, nil)
	c := srv.dial(t)

	c.send(eventStartGame, "ZZZZZ")

	var msg ErrorMessage
	c.expect(eventError, &msg)
	if msg.Message != "That game does not exist." {
		t.Errorf("error message = %q", msg.Message)
	}
}

func TestDisconnectUpdatesRoster(t *testing.T) {
	srv := newTestServer(t, nil)

	alice := srv.dial(t)
	bob := srv.dial(t)

	code := alice.create("alice")
	bob.join("bob", code)
	alice.expect(game.EventNewPlayer, nil)

	_ = bob.conn.Close()

	var roster []game.Player
	alice.expect(game.EventNewPlayer, &roster)
	if len(roster) != 1 || roster[0].ID != alice.id {
		t.Errorf("roster after disconnect = %+v", roster)
	}

	room, _ := srv.votes.registry.Lookup(code)
	if _, ok := room.Scores()[bob.id]; ok {
		t.Error("disconnected player still has a score entry")
	}

	_ = alice.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := srv.votes.registry.Lookup(code); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("empty room was never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreatingAgainLeavesPreviousRoom(t *testing.T) {
	srv := newTestServer(t, nil)

	alice := srv.dial(t)
	bob := srv.dial(t)

	first := alice.create("alice")
	bob.join("bob", first)

	second := bob.create("bob")
	if second == first {
		t.Fatal("new game reused the old code")
	}

	var roster []game.Player
	for {
		alice.expect(game.EventNewPlayer, &roster)
		if len(roster) == 1 {
			break
		}
	}

	if code, _ := srv.votes.sessions.Lookup(bob.id); code != second {
		t.Errorf("bob's session points at %q, want %q", code, second)
	}
}

func TestQRCode(t *testing.T) {
	srv := newTestServer(t, nil)
	c := srv.dial(t)
	code := c.create("alice")

	resp, err := http.Get(srv.URL + "/vote/qr/" + code)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("qr response = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(srv.URL + "/vote/qr/ZZZZZ")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown code qr status = %d, want 404", resp.StatusCode)
	}
}

func TestOriginCheck(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.allowedOrigin = "https://the-vote.example" })

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/vote/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("dial from a foreign origin succeeded")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://the-vote.example"}})
	if err != nil {
		t.Fatalf("dial from the allowed origin: %v", err)
	}
	conn.Close()
}

func TestJoinLink(t *testing.T) {
	cfg := validConfig()
	r := httptest.NewRequest(http.MethodGet, "http://party.example/vote/qr/AbCdE", nil)

	if got, want := joinLink(cfg, r, "AbCdE"), "http://party.example/?code=AbCdE"; got != want {
		t.Errorf("joinLink = %q, want %q", got, want)
	}

	cfg.joinURL = "https://the-vote.example/join/"
	if got, want := joinLink(cfg, r, "AbCdE"), "https://the-vote.example/join/AbCdE"; got != want {
		t.Errorf("joinLink = %q, want %q", got, want)
	}
}
