package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strconv"

	"github.com/cheth/backend/internal/chain"
	"github.com/cheth/backend/internal/models"
)

// ChainClient is the on-chain escrow contract collaborator.
type ChainClient interface {
	CreateGame(ctx context.Context, wagerWei *big.Int) (contractGameID int64, txHash string, err error)
	Escrow(ctx context.Context, contractGameID int64) (*big.Int, error)
	DeclareResult(ctx context.Context, contractGameID int64, winnerAddress string) (txHash string, err error)
}

// ChessHost is the external chess-session collaborator.
type ChessHost interface {
	CreateOpenChallenge(ctx context.Context, player1, player2 string) (sessionID string, err error)
	ExportGame(ctx context.Context, sessionID string) (pgn string, err error)
}

// GameStore is the persistence collaborator for game and user records.
type GameStore interface {
	GetGame(ctx context.Context, id int) (*models.Game, error)
	GetUserByLichessID(ctx context.Context, lichessID string) (*models.User, error)
	SetContractGameID(ctx context.Context, gameID int, contractGameID int64) error
	SetLichessGameID(ctx context.Context, gameID int, lichessGameID string) error
	RecordSettlement(ctx context.Context, gameID, winnerID int, txHash string, payoutAmount float64) error
	MarkStatus(ctx context.Context, gameID int, status string) error
	MarkSettlementInconsistent(ctx context.Context, gameID int, txHash string) error
}

// EventSink receives room-scoped progress events.
type EventSink interface {
	Broadcast(gameID string, evt Event)
}

// ErrSettlementInconsistent reports a settlement transaction that confirmed
// on-chain without a readable payout. The distribution latch stays unset.
var ErrSettlementInconsistent = errors.New("settlement confirmed without payout amount")

// Orchestrator drives the one-shot sequence for each game room: contract
// creation, deposit tracking, external game creation, result handling and
// fund distribution. Every step is guarded by the room's idempotency
// latches; failures leave the step un-latched for a later retrigger.
type Orchestrator struct {
	reg       *Registry
	chain     ChainClient
	host      ChessHost
	store     GameStore
	events    EventSink
	source    ResultSource
	retry     *RetryEngine
	snapshots *SnapshotStore
}

func NewOrchestrator(
	reg *Registry,
	chainClient ChainClient,
	host ChessHost,
	store GameStore,
	events EventSink,
	source ResultSource,
	retry *RetryEngine,
	snapshots *SnapshotStore,
) *Orchestrator {
	return &Orchestrator{
		reg:       reg,
		chain:     chainClient,
		host:      host,
		store:     store,
		events:    events,
		source:    source,
		retry:     retry,
		snapshots: snapshots,
	}
}

// OnConnect registers a player's transport and, once the room is full,
// kicks off the escrow sequence. Invalid identifiers fail registration and
// the caller closes the transport.
func (o *Orchestrator) OnConnect(ctx context.Context, playerID, gameID string, t Transport) error {
	if playerID == "" || gameID == "" {
		return fmt.Errorf("%w: playerId and gameId required", ErrInvalidRequest)
	}
	if _, err := strconv.Atoi(gameID); err != nil {
		return fmt.Errorf("%w: gameId must be numeric", ErrInvalidRequest)
	}

	_, room, err := o.reg.Register(playerID, gameID, t)
	if err != nil {
		return err
	}

	log.Printf("[ESCROW] Player %s connected to game %s", playerID, gameID)
	o.saveSnapshot(room)

	if len(o.reg.RoomMembers(gameID)) == 2 && room.State() == StatePairing {
		o.events.Broadcast(gameID, Event{
			Type:    EventGamePaired,
			GameID:  gameID,
			Message: "Game is ready to start",
		})
		go o.CreateContract(ctx, gameID)
	}
	return nil
}

// OnDisconnect flips the connected flag. Orchestration state survives; an
// in-flight settlement keeps running even with both players gone. Once the
// room has reached a terminal state and the last player leaves, the room and
// its snapshot are dropped.
func (o *Orchestrator) OnDisconnect(playerID, gameID string) {
	o.reg.Unregister(playerID, gameID)
	log.Printf("[ESCROW] Player %s disconnected from game %s", playerID, gameID)

	room := o.reg.Room(gameID)
	if room == nil {
		return
	}

	state := room.State()
	if state == StateFundsDistributed || state == StateStreamAbandoned {
		for _, m := range room.Snapshot().Members {
			if m.Connected {
				o.saveSnapshot(room)
				return
			}
		}
		o.reg.CloseRoom(gameID)
		if o.snapshots != nil {
			if err := o.snapshots.Delete(context.Background(), gameID); err != nil {
				log.Printf("[ESCROW] Failed to drop snapshot for game %s: %v", gameID, err)
			}
		}
		log.Printf("[ESCROW] Room %s closed (state %s, all players gone)", gameID, state)
		return
	}

	o.saveSnapshot(room)
}

// CreateContract runs the contract-creation step exactly once per pairing.
// A failure rolls the room back to PAIRING so a fresh pairing event may
// attempt it again; it is never retried automatically.
func (o *Orchestrator) CreateContract(ctx context.Context, gameID string) {
	room := o.reg.Room(gameID)
	if room == nil {
		log.Printf("[ESCROW] Contract step for unknown game %s", gameID)
		return
	}

	if err := room.BeginStep(StatePairing, StateContractPending); err != nil {
		log.Printf("[ESCROW] Skipping contract creation for game %s: %v", gameID, err)
		return
	}

	dbID, _ := strconv.Atoi(gameID)
	game, err := o.store.GetGame(ctx, dbID)
	if err != nil {
		log.Printf("[ESCROW] Contract creation for game %s failed: %v", gameID, err)
		room.FailStep(StatePairing)
		return
	}

	contractGameID, txHash, err := o.chain.CreateGame(ctx, chain.EtherToWei(game.WagerAmount))
	if err != nil {
		log.Printf("[ESCROW] Contract creation for game %s failed: %v", gameID, err)
		room.FailStep(StatePairing)
		return
	}

	room.SetContractGameID(contractGameID)
	if err := o.store.SetContractGameID(ctx, dbID, contractGameID); err != nil {
		log.Printf("[ESCROW] Failed to persist contract game id for game %s: %v", gameID, err)
	}

	room.CompleteStep(StateContractCreated)
	log.Printf("[ESCROW] Contract created for game %s: contract_game_id=%d tx=%s",
		gameID, contractGameID, txHash)

	o.events.Broadcast(gameID, Event{
		Type:           EventContractCreated,
		GameID:         gameID,
		ContractGameID: contractGameID,
	})

	if err := room.Advance(StateAwaitingDeposits); err != nil {
		log.Printf("[ESCROW] Game %s: %v", gameID, err)
	}
	o.saveSnapshot(room)

	// Deposits may have arrived before the on-chain id was known.
	o.maybeCreateExternalGame(ctx, room)
}

// HandleDeposit records one player's escrow deposit and fires the
// deposit-complete cascade once both are in.
func (o *Orchestrator) HandleDeposit(ctx context.Context, playerID, gameID string) {
	room := o.reg.Room(gameID)
	if room == nil {
		log.Printf("[ESCROW] Deposit signal for unknown game %s", gameID)
		return
	}
	if !room.MarkDeposited(playerID) {
		log.Printf("[ESCROW] Deposit signal from player %s not in game %s", playerID, gameID)
		return
	}

	log.Printf("[ESCROW] Player %s deposited for game %s", playerID, gameID)
	o.saveSnapshot(room)
	o.maybeCreateExternalGame(ctx, room)
}

// maybeCreateExternalGame runs the external-game-creation step once both
// deposits are in AND the contract exists. The room claim is atomic, so a
// near-simultaneous pair of deposit signals fires the cascade exactly once.
func (o *Orchestrator) maybeCreateExternalGame(ctx context.Context, room *Room) {
	if !room.TryBeginExternalGame() {
		return
	}
	gameID := room.GameID()

	o.events.Broadcast(gameID, Event{Type: EventBothDeposited, GameID: gameID})

	members := o.reg.RoomMembers(gameID)
	if len(members) != 2 {
		log.Printf("[ESCROW] Game %s has %d members at external-game creation", gameID, len(members))
		room.FailStep(StateAwaitingDeposits)
		return
	}

	sessionID, err := o.host.CreateOpenChallenge(ctx, members[0].PlayerID, members[1].PlayerID)
	if err != nil {
		// Not retried automatically; the next deposit-side event retriggers.
		log.Printf("[ESCROW] External game creation for game %s failed: %v", gameID, err)
		room.FailStep(StateAwaitingDeposits)
		return
	}

	room.SetSessionID(sessionID)
	dbID, _ := strconv.Atoi(gameID)
	if err := o.store.SetLichessGameID(ctx, dbID, sessionID); err != nil {
		log.Printf("[ESCROW] Failed to persist lichess game id for game %s: %v", gameID, err)
	}

	room.CompleteStep(StateExternalGameCreated)
	log.Printf("[ESCROW] External game created for game %s: session=%s", gameID, sessionID)

	o.events.Broadcast(gameID, Event{
		Type:          EventLichessGameCreated,
		GameID:        gameID,
		LichessGameID: sessionID,
	})
	o.saveSnapshot(room)

	go o.attachResultStream(ctx, room)
}

// attachResultStream subscribes to the session's result delivery with
// bounded retries, then consumes status events until the game ends. A stream
// that drops before delivering a terminal event is reattached; a session that
// is actually dead fails the next attach and abandons through the bounded
// path.
func (o *Orchestrator) attachResultStream(ctx context.Context, room *Room) {
	gameID := room.GameID()
	sessionID := room.SessionID()

	for {
		var events <-chan GameEvent
		err := o.retry.Do(ctx, "attach-result-stream", func(ctx context.Context) error {
			ch, err := o.source.Subscribe(ctx, sessionID)
			if err != nil {
				return err
			}
			events = ch
			return nil
		})
		if err != nil {
			log.Printf("[ESCROW] Abandoning game %s: result stream never attached (session=%s): %v",
				gameID, sessionID, err)
			room.Abandon()
			dbID, _ := strconv.Atoi(gameID)
			if serr := o.store.MarkStatus(ctx, dbID, models.GameStatusAbandoned); serr != nil {
				log.Printf("[ESCROW] Failed to persist abandonment for game %s: %v", gameID, serr)
			}
			o.saveSnapshot(room)
			return
		}

		if room.State() == StateExternalGameCreated {
			if err := room.Advance(StateStreamAttached); err != nil {
				log.Printf("[ESCROW] Game %s: %v", gameID, err)
			}
			o.saveSnapshot(room)
		}
		log.Printf("[ESCROW] Result stream attached for game %s (session=%s)", gameID, sessionID)

		for evt := range events {
			if !evt.Terminal() {
				log.Printf("[ESCROW] Game %s status: %s", gameID, evt.Status)
				continue
			}
			o.HandleGameFinished(ctx, gameID, evt)
		}

		if room.State() != StateStreamAttached {
			return
		}

		log.Printf("[ESCROW] Result stream for game %s closed before a result, reattaching", gameID)
		if !o.retry.sleep(ctx, o.retry.BaseDelay) {
			return
		}
	}
}

// HandleGameFinished processes a terminal status event. Safe against
// duplicate delivery: the finish transition fires once and the distribution
// step is latched separately.
func (o *Orchestrator) HandleGameFinished(ctx context.Context, gameID string, evt GameEvent) {
	room := o.reg.Room(gameID)
	if room == nil {
		log.Printf("[ESCROW] Terminal event for unknown game %s", gameID)
		return
	}
	if room.FundsDistributed() {
		log.Printf("[ESCROW] Duplicate terminal event for settled game %s, ignoring", gameID)
		return
	}

	pgn := evt.PGN
	if pgn == "" {
		exported, err := o.host.ExportGame(ctx, room.SessionID())
		if err != nil {
			log.Printf("[ESCROW] Failed to export finished game %s: %v", gameID, err)
			return
		}
		pgn = exported
	}

	result, err := ParsePGNResult(pgn)
	if err != nil {
		log.Printf("[ESCROW] Failed to resolve result for game %s: %v", gameID, err)
		return
	}

	if room.TryFinish() {
		log.Printf("[ESCROW] Game %s finished: %s (%s)", gameID, result.Outcome, evt.Status)
		dbID, _ := strconv.Atoi(gameID)
		if serr := o.store.MarkStatus(ctx, dbID, models.GameStatusFinished); serr != nil {
			log.Printf("[ESCROW] Failed to persist finish for game %s: %v", gameID, serr)
		}
		o.events.Broadcast(gameID, Event{
			Type:   EventGameFinished,
			GameID: gameID,
			Result: string(result.Outcome),
		})
		o.saveSnapshot(room)
	}

	if err := o.DistributeFunds(ctx, gameID, result); err != nil {
		log.Printf("[ESCROW] Fund distribution for game %s failed: %v", gameID, err)
	}
}

// DistributeFunds settles the escrow to the winner exactly once. Any failure
// leaves the fundsDistributed latch unset and the step retriable; a
// confirmed transaction with missing payout data is a failure, not success.
func (o *Orchestrator) DistributeFunds(ctx context.Context, gameID string, result GameResult) error {
	room := o.reg.Room(gameID)
	if room == nil {
		return fmt.Errorf("no room for game %s", gameID)
	}
	if !room.TryBeginDistribution() {
		log.Printf("[ESCROW] Skipping fund distribution for game %s (already settled or in flight)", gameID)
		return nil
	}

	dbID, _ := strconv.Atoi(gameID)

	if result.Draw() {
		// No payout path for draws: escrow stays locked pending operator
		// resolution through the contract.
		room.ReleaseDistribution()
		log.Printf("[ESCROW] Game %s drawn; escrow left locked for operator resolution", gameID)
		if err := o.store.MarkStatus(ctx, dbID, models.GameStatusDraw); err != nil {
			log.Printf("[ESCROW] Failed to persist draw for game %s: %v", gameID, err)
		}
		return nil
	}

	winnerLichessID, ok := result.WinnerID()
	if !ok {
		room.ReleaseDistribution()
		return fmt.Errorf("game %s has no resolvable winner (result %s)", gameID, result.Outcome)
	}

	winner, err := o.store.GetUserByLichessID(ctx, winnerLichessID)
	if err != nil {
		room.ReleaseDistribution()
		return fmt.Errorf("lookup winner %s: %w", winnerLichessID, err)
	}

	contractGameID := room.ContractGameID()

	// Read the pot before settling; after declareResult pays out the escrow
	// is empty and the payout amount would be unrecoverable.
	pot, err := o.chain.Escrow(ctx, contractGameID)
	if err != nil {
		room.ReleaseDistribution()
		return fmt.Errorf("read escrow for game %s: %w", gameID, err)
	}

	txHash, err := o.chain.DeclareResult(ctx, contractGameID, winner.WalletAddress)
	if err != nil {
		room.ReleaseDistribution()
		return fmt.Errorf("declare result for game %s: %w", gameID, err)
	}

	if pot == nil || pot.Sign() == 0 {
		// Transaction confirmed but no payout figure: surface it, keep the
		// latch unset, and never write a fabricated zero payout.
		room.ReleaseDistribution()
		if serr := o.store.MarkSettlementInconsistent(ctx, dbID, txHash); serr != nil {
			log.Printf("[ESCROW] Failed to persist settlement inconsistency for game %s: %v", gameID, serr)
		}
		return fmt.Errorf("%w: game %s tx %s", ErrSettlementInconsistent, gameID, txHash)
	}

	payout := chain.WeiToEther(pot)
	if err := o.store.RecordSettlement(ctx, dbID, winner.ID, txHash, payout); err != nil {
		log.Printf("[ESCROW] Failed to persist settlement for game %s: %v", gameID, err)
	}

	room.CompleteDistribution()
	log.Printf("[ESCROW] Funds distributed for game %s: winner=%s payout=%f tx=%s",
		gameID, winnerLichessID, payout, txHash)

	o.events.Broadcast(gameID, Event{
		Type:    EventFundsDistributed,
		GameID:  gameID,
		Winner:  winnerLichessID,
		Message: fmt.Sprintf("Funds distributed: %f to %s", payout, winnerLichessID),
	})
	o.saveSnapshot(room)
	return nil
}

func (o *Orchestrator) saveSnapshot(room *Room) {
	if o.snapshots == nil {
		return
	}
	if err := o.snapshots.Save(context.Background(), room.Snapshot()); err != nil {
		log.Printf("[ESCROW] Failed to save snapshot for game %s: %v", room.GameID(), err)
	}
}

// RoomSnapshots exposes live rooms for the operator surface.
func (o *Orchestrator) RoomSnapshots() []RoomSnapshot {
	return o.reg.Rooms()
}

// RoomSnapshot returns one room's state, falling back to the persisted
// snapshot when the room is no longer live.
func (o *Orchestrator) RoomSnapshot(ctx context.Context, gameID string) (*RoomSnapshot, error) {
	if room := o.reg.Room(gameID); room != nil {
		snap := room.Snapshot()
		return &snap, nil
	}
	if o.snapshots == nil {
		return nil, fmt.Errorf("no room for game %s", gameID)
	}
	return o.snapshots.Load(ctx, gameID)
}
