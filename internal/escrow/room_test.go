package escrow

import (
	"errors"
	"sync"
	"testing"
)

func fullRoom(t *testing.T) (*Registry, *Room) {
	t.Helper()
	reg := NewRegistry()
	reg.Register("alice", "1", &fakeTransport{})
	reg.Register("bob", "1", &fakeTransport{})
	return reg, reg.Room("1")
}

func TestBeginStepClaimsOnce(t *testing.T) {
	_, room := fullRoom(t)

	if err := room.BeginStep(StatePairing, StateContractPending); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := room.BeginStep(StatePairing, StateContractPending); !errors.Is(err, ErrStepInFlight) {
		t.Errorf("second claim: got %v, want ErrStepInFlight", err)
	}
}

func TestBeginStepAfterCompletionReportsDone(t *testing.T) {
	_, room := fullRoom(t)

	room.BeginStep(StatePairing, StateContractPending)
	room.CompleteStep(StateContractCreated)

	if err := room.BeginStep(StatePairing, StateContractPending); !errors.Is(err, ErrStepDone) {
		t.Errorf("replay after completion: got %v, want ErrStepDone", err)
	}
}

func TestFailStepRollsBackAndStaysRetriable(t *testing.T) {
	_, room := fullRoom(t)

	room.BeginStep(StatePairing, StateContractPending)
	room.FailStep(StatePairing)

	if got := room.State(); got != StatePairing {
		t.Fatalf("state after rollback: %s", got)
	}
	if err := room.BeginStep(StatePairing, StateContractPending); err != nil {
		t.Errorf("retry after rollback: %v", err)
	}
}

func TestConcurrentStepClaimsSingleWinner(t *testing.T) {
	_, room := fullRoom(t)

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if room.BeginStep(StatePairing, StateContractPending) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("%d goroutines claimed the step", got)
	}
}

func TestTransitionRejectsBackwardMoves(t *testing.T) {
	_, room := fullRoom(t)

	room.BeginStep(StatePairing, StateContractPending)
	room.CompleteStep(StateContractCreated)
	if err := room.Advance(StateAwaitingDeposits); err != nil {
		t.Fatalf("forward move: %v", err)
	}

	if err := room.Advance(StateContractCreated); !errors.Is(err, ErrBadState) {
		t.Errorf("backward move: got %v, want ErrBadState", err)
	}
}

func TestAllDeposited(t *testing.T) {
	_, room := fullRoom(t)

	if room.AllDeposited() {
		t.Fatal("no deposits yet")
	}
	room.MarkDeposited("alice")
	if room.AllDeposited() {
		t.Fatal("one deposit is not all")
	}
	room.MarkDeposited("bob")
	if !room.AllDeposited() {
		t.Fatal("both deposited but AllDeposited is false")
	}
}

func TestMarkDepositedUnknownPlayer(t *testing.T) {
	_, room := fullRoom(t)
	if room.MarkDeposited("mallory") {
		t.Error("deposit accepted from player outside the room")
	}
}

func TestAllDepositedNeedsFullRoom(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", "1", &fakeTransport{})
	room := reg.Room("1")

	room.MarkDeposited("alice")
	if room.AllDeposited() {
		t.Error("single-member room reported all deposited")
	}
}

func advanceToAwaitingDeposits(t *testing.T, room *Room) {
	t.Helper()
	if err := room.BeginStep(StatePairing, StateContractPending); err != nil {
		t.Fatalf("claim contract step: %v", err)
	}
	room.CompleteStep(StateContractCreated)
	if err := room.Advance(StateAwaitingDeposits); err != nil {
		t.Fatalf("advance to awaiting deposits: %v", err)
	}
}

func TestTryBeginExternalGameRequiresContract(t *testing.T) {
	_, room := fullRoom(t)

	// Deposits land before the contract exists.
	room.MarkDeposited("alice")
	room.MarkDeposited("bob")
	if room.TryBeginExternalGame() {
		t.Fatal("external game began without a contract")
	}

	advanceToAwaitingDeposits(t, room)
	if !room.TryBeginExternalGame() {
		t.Fatal("external game did not begin once the contract existed")
	}
}

func TestTryBeginExternalGameExactlyOnce(t *testing.T) {
	_, room := fullRoom(t)
	advanceToAwaitingDeposits(t, room)
	room.MarkDeposited("alice")
	room.MarkDeposited("bob")

	const n = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if room.TryBeginExternalGame() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("external-game step claimed %d times", got)
	}
}

func TestTryFinishFirstTerminalEventWins(t *testing.T) {
	_, room := fullRoom(t)
	advanceToAwaitingDeposits(t, room)
	room.MarkDeposited("alice")
	room.MarkDeposited("bob")
	room.TryBeginExternalGame()
	room.CompleteStep(StateExternalGameCreated)
	if err := room.Advance(StateStreamAttached); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if !room.TryFinish() {
		t.Fatal("first terminal event did not finish the game")
	}
	if room.TryFinish() {
		t.Error("duplicate terminal event finished the game again")
	}
}

func TestDistributionLatch(t *testing.T) {
	_, room := fullRoom(t)
	advanceToAwaitingDeposits(t, room)
	room.MarkDeposited("alice")
	room.MarkDeposited("bob")
	room.TryBeginExternalGame()
	room.CompleteStep(StateExternalGameCreated)
	room.Advance(StateStreamAttached)
	room.TryFinish()

	if !room.TryBeginDistribution() {
		t.Fatal("distribution step not claimable after finish")
	}
	if room.TryBeginDistribution() {
		t.Fatal("distribution step claimed twice while in flight")
	}

	// Failed settlement: latch stays unset, step retriable.
	room.ReleaseDistribution()
	if room.FundsDistributed() {
		t.Error("failed distribution set the latch")
	}
	if !room.TryBeginDistribution() {
		t.Fatal("distribution step not retriable after release")
	}

	room.CompleteDistribution()
	if !room.FundsDistributed() {
		t.Error("completed distribution did not set the latch")
	}
	if room.TryBeginDistribution() {
		t.Error("distribution step claimable after completion")
	}
}

func TestSnapshotCarriesState(t *testing.T) {
	_, room := fullRoom(t)
	room.SetContractGameID(7)
	room.SetSessionID("abc123")
	room.MarkDeposited("alice")

	snap := room.Snapshot()
	if snap.GameID != "1" || snap.State != StatePairing {
		t.Errorf("snapshot header wrong: %+v", snap)
	}
	if snap.ContractGameID != 7 || snap.SessionID != "abc123" {
		t.Errorf("snapshot ids wrong: %+v", snap)
	}
	if len(snap.Members) != 2 {
		t.Fatalf("snapshot members: %d", len(snap.Members))
	}
	if !snap.Members[0].HasDeposited || snap.Members[1].HasDeposited {
		t.Errorf("snapshot deposit flags wrong: %+v", snap.Members)
	}
}
