/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"slices"
	"sync"
	"time"
)

// State is where a room sits in its lobby → rounds → finished lifecycle.
type State string

const (
	StateLobby    State = "lobby"
	StateInRound  State = "in_round"
	StateFinished State = "finished"
)

// Submission reports what Submit did with an answer.
type Submission int

const (
	Ignored Submission = iota
	Recorded
	Resolved
)

// Room is one game session. Every exported method holds the room lock
// for its whole transition, and broadcasts go out while it is held, so
// members see events in the order the transitions happened.
type Room struct {
	mu sync.Mutex

	code     string
	variant  string
	prompts  []string
	capacity int
	delay    time.Duration

	state   State
	round   int
	players []*Player
	answers []Answer
	votes   []Vote
	scores  map[string]int

	// creatorID is set by the first admission and never reassigned.
	creatorID string

	// waiting is set between a round's result and the next prompt.
	waiting bool
	closed  bool

	createdAt  time.Time
	lastActive time.Time

	notify Notifier
	sched  *Scheduler
}

func newRoom(code, variant string, prompts []string, opts Options, notify Notifier, sched *Scheduler) *Room {
	now := time.Now()

	return &Room{
		code:       code,
		variant:    variant,
		prompts:    prompts,
		capacity:   opts.Capacity,
		delay:      opts.RoundDelay,
		state:      StateLobby,
		scores:     make(map[string]int),
		createdAt:  now,
		lastActive: now,
		notify:     notify,
		sched:      sched,
	}
}

func (r *Room) Code() string {
	return r.code
}

func (r *Room) Variant() string {
	return r.variant
}

// Prompts returns the session's prompt sequence, fixed at creation.
func (r *Room) Prompts() []string {
	return slices.Clone(r.prompts)
}

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Round returns the 0-based index of the current (or next) prompt.
func (r *Room) Round() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.round
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.players)
}

func (r *Room) Players() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rosterLocked()
}

func (r *Room) Scores() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.scoresLocked()
}

// Answers returns the answers collected for the current prompt.
func (r *Room) Answers() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.answers)
}

func (r *Room) LastActive() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastActive
}

// IsCreator reports whether id holds the creator seat.
func (r *Room) IsCreator(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return id != "" && id == r.creatorID && r.playerLocked(id) != nil
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

// Admit seats p with a zero score and broadcasts the new roster to every
// member, the newcomer included. The first player ever admitted becomes
// the creator; that seat is never handed on.
func (r *Room) Admit(p Player) ([]Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomClosed
	}

	if r.playerLocked(p.ID) != nil {
		return r.rosterLocked(), nil
	}

	if len(r.players) >= r.capacity {
		return nil, ErrRoomFull
	}

	r.lastActive = time.Now()

	p.Score = 0
	p.Creator = r.creatorID == ""
	if p.Creator {
		r.creatorID = p.ID
	}
	r.players = append(r.players, &p)
	r.scores[p.ID] = 0

	roster := r.rosterLocked()
	r.notify.Broadcast(r.code, EventNewPlayer, roster)

	return roster, nil
}

// Start resets scores and collections and announces the first prompt.
// Whether the caller may start the room is checked by the caller.
func (r *Room) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}

	if r.state != StateLobby {
		return ErrNotInLobby
	}

	r.lastActive = time.Now()

	r.round = 0
	r.waiting = false
	r.answers = nil
	r.votes = nil
	r.scores = make(map[string]int, len(r.players))
	for _, p := range r.players {
		p.Score = 0
		r.scores[p.ID] = 0
	}
	r.state = StateInRound

	r.notify.Broadcast(r.code, EventStart, r.snapshotLocked())
	r.emitNextPromptLocked()

	return nil
}

// Submit records playerID's answer for the current prompt. A repeat
// answer, an answer outside an active round, or an answer to a prompt
// other than the current one is ignored without error. When every
// seated player has answered, the round resolves.
func (r *Room) Submit(playerID, question string, option Option) Submission {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.state != StateInRound || r.waiting {
		return Ignored
	}

	if question != "" && question != r.prompts[r.round] {
		return Ignored
	}

	if r.playerLocked(playerID) == nil || r.answeredLocked(playerID) {
		return Ignored
	}

	r.lastActive = time.Now()

	r.answers = append(r.answers, Answer{PlayerID: playerID, Option: option})
	r.votes = append(r.votes, Vote{Voter: playerID, VotedFor: option.ID})

	if r.resolveIfCompleteLocked() {
		return Resolved
	}

	return Recorded
}

// Remove unseats playerID, drops their score and broadcasts the shrunk
// roster. A round that was only waiting on this player resolves at once.
func (r *Room) Remove(playerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.players, func(p *Player) bool {
		return p.ID == playerID
	})
	if i < 0 {
		return len(r.players), ErrNotInRoom
	}

	r.lastActive = time.Now()

	r.players = slices.Delete(r.players, i, i+1)
	delete(r.scores, playerID)

	if r.closed {
		return len(r.players), nil
	}

	r.notify.Broadcast(r.code, EventNewPlayer, r.rosterLocked())

	if r.state == StateInRound && !r.waiting {
		r.resolveIfCompleteLocked()
	}

	return len(r.players), nil
}

// close tears the room down. Pending work for it becomes a no-op.
func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.waiting = false
}

// advance is the deferred half of a resolved round.
func (r *Room) advance() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.state != StateInRound || !r.waiting {
		return
	}
	r.waiting = false

	r.emitNextPromptLocked()
}

func (r *Room) emitNextPromptLocked() {
	if r.round >= len(r.prompts) {
		r.state = StateFinished
		r.answers = nil
		r.votes = nil

		r.notify.Broadcast(r.code, EventGameEnd, GameEndMessage{
			Scores:  r.scoresLocked(),
			Players: r.rosterLocked(),
		})

		return
	}

	r.answers = []Answer{}
	r.votes = []Vote{}

	r.notify.Broadcast(r.code, EventQuestion, QuestionMessage{
		Question: r.prompts[r.round],
		Round:    r.round + 1,
	})
}

// resolveIfCompleteLocked closes the round once every seated player has
// answered. Answers from players who have since left still count.
func (r *Room) resolveIfCompleteLocked() bool {
	if len(r.players) == 0 {
		return false
	}

	for _, p := range r.players {
		if !r.answeredLocked(p.ID) {
			return false
		}
	}

	winners := Tally(r.answers)

	var credited []Player
	for _, id := range winners {
		p := r.playerLocked(id)
		if p == nil {
			continue
		}
		r.scores[id]++
		p.Score = r.scores[id]
		credited = append(credited, *p)
	}

	r.notify.Broadcast(r.code, EventResult, ResultMessage{
		Winners: credited,
		Votes:   slices.Clone(r.votes),
		Scores:  r.scoresLocked(),
		Players: r.rosterLocked(),
	})

	r.round++
	r.waiting = true
	r.sched.Schedule(r.code, r.delay, r.advance)

	return true
}

// Tally counts answers per chosen option and returns every option tied
// for the most votes, in order of first appearance.
func Tally(answers []Answer) []string {
	counts := make(map[string]int)
	order := []string{}
	highest := 0

	for _, a := range answers {
		id := a.Option.ID
		if _, ok := counts[id]; !ok {
			order = append(order, id)
		}
		counts[id]++
		highest = max(highest, counts[id])
	}

	winners := []string{}
	for _, id := range order {
		if counts[id] == highest {
			winners = append(winners, id)
		}
	}

	return winners
}

func (r *Room) playerLocked(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}

	return nil
}

func (r *Room) answeredLocked(id string) bool {
	return slices.ContainsFunc(r.answers, func(a Answer) bool {
		return a.PlayerID == id
	})
}

func (r *Room) rosterLocked() []Player {
	roster := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		roster = append(roster, *p)
	}

	return roster
}

func (r *Room) scoresLocked() map[string]int {
	scores := make(map[string]int, len(r.scores))
	for id, s := range r.scores {
		scores[id] = s
	}

	return scores
}

func (r *Room) snapshotLocked() Snapshot {
	return Snapshot{
		Code:       r.code,
		Variant:    r.variant,
		State:      r.state,
		Round:      r.round,
		MaxRounds:  len(r.prompts),
		MaxPlayers: r.capacity,
		Players:    r.rosterLocked(),
		Scores:     r.scoresLocked(),
		Finished:   r.state == StateFinished,
		CreatedAt:  r.createdAt,
	}
}
