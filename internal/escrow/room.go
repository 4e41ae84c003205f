package escrow

import (
	"errors"
	"fmt"
	"sync"
)

// State is the orchestration state of a game room. Transitions are
// one-directional and happen only through the room's transition helpers.
type State string

const (
	StatePairing             State = "PAIRING"
	StateContractPending     State = "CONTRACT_PENDING"
	StateContractCreated     State = "CONTRACT_CREATED"
	StateAwaitingDeposits    State = "AWAITING_DEPOSITS"
	StateDepositsComplete    State = "DEPOSITS_COMPLETE"
	StateExternalGameCreated State = "EXTERNAL_GAME_CREATED"
	StateStreamAttached      State = "STREAM_ATTACHED"
	StateGameFinished        State = "GAME_FINISHED"
	StateFundsDistributed    State = "FUNDS_DISTRIBUTED"
	StateStreamAbandoned     State = "STREAM_ABANDONED"
)

var stateOrder = map[State]int{
	StatePairing:             0,
	StateContractPending:     1,
	StateContractCreated:     2,
	StateAwaitingDeposits:    3,
	StateDepositsComplete:    4,
	StateExternalGameCreated: 5,
	StateStreamAttached:      6,
	StateGameFinished:        7,
	StateFundsDistributed:    8,
	StateStreamAbandoned:     8, // terminal failure, same depth as terminal success
}

var (
	ErrStepInFlight = errors.New("orchestration step already executing")
	ErrStepDone     = errors.New("orchestration step already completed")
	ErrBadState     = errors.New("room is not in the required state")
)

// Transport is one player's live connection. Implementations must be safe
// for concurrent Send calls.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Connection is one player's session record for one game. The record
// outlives the transport: orchestration flags must survive disconnects.
type Connection struct {
	PlayerID string
	GameID   string

	transport    Transport
	Connected    bool
	HasDeposited bool
}

// Room holds the connections sharing a game id plus the room-wide
// orchestration state. Latches live here, not on any one connection.
type Room struct {
	mu sync.Mutex

	gameID    string
	conns     []*Connection
	state     State
	executing bool

	contractGameID int64
	sessionID      string
}

func newRoom(gameID string) *Room {
	return &Room{gameID: gameID, state: StatePairing}
}

// transition is the single authoritative state change. It only permits
// forward moves; callers hold r.mu.
func (r *Room) transition(to State) error {
	from := r.state
	if stateOrder[to] <= stateOrder[from] {
		return fmt.Errorf("%w: %s -> %s", ErrBadState, from, to)
	}
	r.state = to
	return nil
}

// BeginStep claims an orchestration step: the room must be exactly in
// `from`, with no step in flight. On success the room moves to `pending`
// and the executing flag is held until CompleteStep or FailStep.
func (r *Room) BeginStep(from, pending State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.executing {
		return ErrStepInFlight
	}
	if stateOrder[r.state] > stateOrder[from] {
		return fmt.Errorf("%w: room in %s", ErrStepDone, r.state)
	}
	if r.state != from {
		return fmt.Errorf("%w: room in %s, step requires %s", ErrBadState, r.state, from)
	}
	if err := r.transition(pending); err != nil {
		return err
	}
	r.executing = true
	return nil
}

// CompleteStep finishes the claimed step and advances to `next`.
func (r *Room) CompleteStep(next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executing = false
	if r.state != next {
		r.transition(next)
	}
}

// FailStep releases the claimed step and rolls the tentative state back so
// the step stays retriable. Rollback is the one allowed backward move.
func (r *Room) FailStep(back State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executing = false
	r.state = back
}

// Advance moves the room forward outside a claimed step (e.g. the momentary
// CONTRACT_CREATED -> AWAITING_DEPOSITS hop after broadcasting).
func (r *Room) Advance(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(to)
}

func (r *Room) GameID() string { return r.gameID }

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ContractCreated reports the contract-creation idempotency latch.
func (r *Room) ContractCreated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return stateOrder[r.state] >= stateOrder[StateContractCreated]
}

// FundsDistributed reports the fund-distribution idempotency latch.
func (r *Room) FundsDistributed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateFundsDistributed
}

func (r *Room) SetContractGameID(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contractGameID = id
}

func (r *Room) ContractGameID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contractGameID
}

func (r *Room) SetSessionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = id
}

func (r *Room) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// MarkDeposited flips the deposit flag for one player. Returns false if the
// player has no connection record in this room.
func (r *Room) MarkDeposited(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.PlayerID == playerID {
			c.HasDeposited = true
			return true
		}
	}
	return false
}

// AllDeposited holds iff the room is full and every member has deposited.
func (r *Room) AllDeposited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allDepositedLocked()
}

func (r *Room) allDepositedLocked() bool {
	if len(r.conns) != 2 {
		return false
	}
	for _, c := range r.conns {
		if !c.HasDeposited {
			return false
		}
	}
	return true
}

// TryBeginExternalGame claims the external-game-creation step. It fires only
// when deposits are complete AND the contract exists (ordering dependency
// across steps, not just flags).
func (r *Room) TryBeginExternalGame() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.executing || r.state != StateAwaitingDeposits || !r.allDepositedLocked() {
		return false
	}
	r.state = StateDepositsComplete
	r.executing = true
	return true
}

// TryFinish claims the STREAM_ATTACHED -> GAME_FINISHED transition. Only the
// first terminal event wins; duplicates get false.
func (r *Room) TryFinish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateStreamAttached {
		return false
	}
	r.state = StateGameFinished
	return true
}

// TryBeginDistribution claims the fund-distribution step. The room stays in
// GAME_FINISHED while the settlement is in flight so a failure leaves the
// step retriable.
func (r *Room) TryBeginDistribution() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executing || r.state != StateGameFinished {
		return false
	}
	r.executing = true
	return true
}

// CompleteDistribution releases the distribution step as succeeded.
func (r *Room) CompleteDistribution() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executing = false
	r.state = StateFundsDistributed
}

// ReleaseDistribution releases the distribution step as failed; the
// fundsDistributed latch stays unset.
func (r *Room) ReleaseDistribution() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executing = false
}

// Abandon transitions the room to the terminal failure state.
func (r *Room) Abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executing = false
	r.state = StateStreamAbandoned
}

// MemberSnapshot and RoomSnapshot serialize the orchestration state for
// operator inspection.
type MemberSnapshot struct {
	PlayerID     string `json:"playerId"`
	Connected    bool   `json:"connected"`
	HasDeposited bool   `json:"hasDeposited"`
}

type RoomSnapshot struct {
	GameID         string           `json:"gameId"`
	State          State            `json:"state"`
	ContractGameID int64            `json:"contractGameId,omitempty"`
	SessionID      string           `json:"lichessGameId,omitempty"`
	Members        []MemberSnapshot `json:"members"`
}

func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RoomSnapshot{
		GameID:         r.gameID,
		State:          r.state,
		ContractGameID: r.contractGameID,
		SessionID:      r.sessionID,
	}
	for _, c := range r.conns {
		snap.Members = append(snap.Members, MemberSnapshot{
			PlayerID:     c.PlayerID,
			Connected:    c.Connected,
			HasDeposited: c.HasDeposited,
		})
	}
	return snap
}
