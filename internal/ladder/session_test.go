package ladder

import (
	"sync"
	"testing"
	"time"

	"github.com/isoi-kec/instrrol/internal/schedule"
)

func twoLevels() []Level {
	first := Level{
		ID:    1,
		Title: "Simple Start-Stop",
		TestCases: []TestCase{
			{Inputs: []bool{false, false}, Expected: false},
			{Inputs: []bool{true, false}, Expected: true},
		},
		AvailableBlocks: []Kind{NormallyOpen, Coil},
		RequiredBlocks:  2,
	}
	return []Level{first, emergencyStop()}
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
	done  []Completion
}

func (r *recorder) change(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) complete(c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, c)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func newTestSession(t *testing.T, levels []Level) (*Session, *schedule.Manual, *recorder) {
	t.Helper()
	clock := schedule.NewManual()
	rec := &recorder{}
	s, err := NewSession(levels, Options{
		Scheduler:  clock,
		OnChange:   rec.change,
		OnComplete: rec.complete,
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s, clock, rec
}

func placeAll(t *testing.T, s *Session, kinds ...Kind) {
	t.Helper()
	for i, k := range kinds {
		if !s.Place(k, i) {
			t.Fatalf("Place(%s, %d) rejected", k, i)
		}
	}
}

func TestNewSessionRequiresLevels(t *testing.T) {
	if _, err := NewSession(nil, Options{}); err == nil {
		t.Fatal("expected error for empty level list")
	}
}

func TestPlaceRejections(t *testing.T) {
	s, _, _ := newTestSession(t, twoLevels())

	if s.Place(NormallyClosed, 0) {
		t.Error("level 1 does not offer NC")
	}
	if s.Place(NormallyOpen, -1) || s.Place(NormallyOpen, 2) {
		t.Error("out-of-range slot accepted")
	}
	if s.Place(Kind("RELAY"), 0) {
		t.Error("unknown kind accepted")
	}
	if !s.Place(NormallyOpen, 0) {
		t.Fatal("valid placement rejected")
	}
	if s.Place(Coil, 0) {
		t.Error("occupied slot accepted")
	}
	if !s.Place(Coil, 1) {
		t.Fatal("valid placement rejected")
	}

	snap := s.Snapshot()
	if len(snap.Placed) != 2 {
		t.Fatalf("expected 2 placed blocks, got %d", len(snap.Placed))
	}
	if snap.Placed[0].ID == snap.Placed[1].ID {
		t.Fatal("placed blocks share an id")
	}
}

func TestEndToEndEmergencyStop(t *testing.T) {
	levels := []Level{emergencyStop(), twoLevels()[0]}
	s, clock, rec := newTestSession(t, levels)

	placeAll(t, s, NormallyOpen, NormallyClosed, Coil)
	if !s.Run() {
		t.Fatal("Run rejected")
	}
	if got := s.Snapshot().Status; got != StatusVerifying {
		t.Fatalf("expected verifying, got %s", got)
	}

	clock.Advance(VerifyDelay)
	snap := s.Snapshot()
	if snap.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%+v)", snap.Status, snap.Verdict)
	}
	if snap.Score != PointsPerLevel {
		t.Fatalf("expected score %d, got %d", PointsPerLevel, snap.Score)
	}
	if !snap.Advancing || snap.LevelIndex != 0 {
		t.Fatalf("expected pending advance on level 0, got %+v", snap)
	}

	clock.Advance(AdvanceDelay)
	snap = s.Snapshot()
	if snap.LevelIndex != 1 {
		t.Fatalf("expected level index 1, got %d", snap.LevelIndex)
	}
	if snap.Status != StatusIdle || len(snap.Placed) != 0 || snap.Advancing {
		t.Fatalf("expected fresh idle level, got %+v", snap)
	}
	if snap.Score != PointsPerLevel {
		t.Fatalf("score must survive the advance, got %d", snap.Score)
	}
	if rec.last().LevelIndex != 1 {
		t.Fatal("advance was not published")
	}
}

func TestVerifyErrorStaysOnLevel(t *testing.T) {
	s, clock, _ := newTestSession(t, twoLevels())

	placeAll(t, s, Coil, NormallyOpen)
	s.Run()
	clock.Advance(VerifyDelay)

	snap := s.Snapshot()
	if snap.Status != StatusError {
		t.Fatalf("expected error, got %s", snap.Status)
	}
	if snap.Verdict == nil || snap.Verdict.Reason != ReasonCoilNotLast {
		t.Fatalf("expected coil_not_last verdict, got %+v", snap.Verdict)
	}
	if snap.Score != 0 || snap.LevelIndex != 0 {
		t.Fatalf("failed run must not score or advance, got %+v", snap)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending work after an error, got %d", clock.Pending())
	}
}

func TestEditsBlockedWhileVerifying(t *testing.T) {
	s, clock, _ := newTestSession(t, twoLevels())
	s.Place(NormallyOpen, 0)
	s.Run()

	if s.Place(Coil, 1) {
		t.Error("Place accepted while verifying")
	}
	if s.Remove(s.Snapshot().Placed[0].ID) {
		t.Error("Remove accepted while verifying")
	}
	if s.ToggleInput(0) {
		t.Error("ToggleInput accepted while verifying")
	}
	if s.Run() {
		t.Error("Run accepted while verifying")
	}

	clock.Advance(VerifyDelay)
	snap := s.Snapshot()
	if snap.Status != StatusError || snap.Verdict.Reason != ReasonIncomplete {
		t.Fatalf("expected incomplete error, got %+v", snap.Verdict)
	}
	if !s.Place(Coil, 1) {
		t.Fatal("Place rejected after verification finished")
	}
	if s.Snapshot().Status != StatusIdle {
		t.Fatal("placing a block must clear the error status")
	}
}

func TestRemoveClearsStatusKeepsInputs(t *testing.T) {
	s, clock, _ := newTestSession(t, twoLevels())
	placeAll(t, s, Coil, NormallyOpen)
	s.ToggleInput(0)
	s.Run()
	clock.Advance(VerifyDelay)

	id := s.Snapshot().Placed[0].ID
	if !s.Remove(id) {
		t.Fatal("Remove rejected")
	}
	snap := s.Snapshot()
	if snap.Status != StatusIdle || snap.Verdict != nil || snap.Output {
		t.Fatalf("expected neutral status after removal, got %+v", snap)
	}
	if !snap.Inputs[0] {
		t.Fatal("Remove must keep input toggles")
	}
	if s.Remove(id) {
		t.Fatal("removing an unknown id must be a no-op")
	}
}

func TestTogglePreview(t *testing.T) {
	s, _, _ := newTestSession(t, twoLevels())
	placeAll(t, s, NormallyOpen, Coil)

	if s.Snapshot().Preview {
		t.Fatal("expected no preview power with inputs off")
	}
	s.ToggleInput(0)
	snap := s.Snapshot()
	if !snap.Preview {
		t.Fatal("expected preview power after toggling input 0")
	}
	if snap.Output {
		t.Fatal("preview must not change the last evaluated output")
	}
	if s.ToggleInput(len(snap.Inputs)) {
		t.Fatal("out-of-range toggle accepted")
	}
}

func TestRunRecordsOutput(t *testing.T) {
	s, _, _ := newTestSession(t, twoLevels())
	placeAll(t, s, NormallyOpen, Coil)
	s.ToggleInput(0)
	s.Run()
	if !s.Snapshot().Output {
		t.Fatal("expected run to record the evaluated output")
	}
}

func TestCompletionOnLastLevel(t *testing.T) {
	s, clock, rec := newTestSession(t, twoLevels())

	placeAll(t, s, NormallyOpen, Coil)
	s.Run()
	clock.Advance(VerifyDelay + AdvanceDelay)

	placeAll(t, s, NormallyOpen, NormallyClosed, Coil)
	s.Run()
	clock.Advance(VerifyDelay)

	snap := s.Snapshot()
	if !snap.Complete {
		t.Fatal("expected completion after last level")
	}
	if snap.Score != 2*PointsPerLevel {
		t.Fatalf("expected score %d, got %d", 2*PointsPerLevel, snap.Score)
	}
	if snap.LevelIndex != 1 {
		t.Fatalf("completion must not move past the last level, got %d", snap.LevelIndex)
	}
	if len(rec.done) != 1 {
		t.Fatalf("expected one completion, got %d", len(rec.done))
	}
	if rec.done[0].Attempts != 2 || rec.done[0].LevelsCleared != 2 {
		t.Fatalf("unexpected completion %+v", rec.done[0])
	}
	if s.Place(NormallyOpen, 0) || s.Run() {
		t.Fatal("edits must be refused after completion")
	}

	s.Restart()
	snap = s.Snapshot()
	if snap.Complete || snap.Score != 0 || snap.LevelIndex != 0 || len(snap.Placed) != 0 {
		t.Fatalf("restart did not reset the playthrough: %+v", snap)
	}
}

func TestResetKeepsScoreAndLevel(t *testing.T) {
	s, clock, _ := newTestSession(t, twoLevels())
	placeAll(t, s, NormallyOpen, Coil)
	s.Run()
	clock.Advance(VerifyDelay + AdvanceDelay)

	s.Place(NormallyOpen, 0)
	s.ToggleInput(1)
	s.ToggleHint()
	s.Reset()

	snap := s.Snapshot()
	if snap.LevelIndex != 1 || snap.Score != PointsPerLevel {
		t.Fatalf("reset must keep level and score, got %+v", snap)
	}
	if len(snap.Placed) != 0 || snap.ShowHint || snap.Inputs[1] {
		t.Fatalf("reset must clear the rung, hint, and toggles, got %+v", snap)
	}
}

func TestResetCancelsPendingVerification(t *testing.T) {
	s, clock, _ := newTestSession(t, twoLevels())
	placeAll(t, s, NormallyOpen, Coil)
	s.Run()
	s.Reset()
	clock.Advance(VerifyDelay + AdvanceDelay)

	snap := s.Snapshot()
	if snap.Status != StatusIdle || snap.Score != 0 || snap.LevelIndex != 0 {
		t.Fatalf("canceled verification still took effect: %+v", snap)
	}
}

func TestCloseMakesPendingWorkNoop(t *testing.T) {
	s, clock, rec := newTestSession(t, twoLevels())
	placeAll(t, s, NormallyOpen, Coil)
	s.Run()

	published := len(rec.snaps)
	s.Close()
	clock.Advance(time.Minute)

	if len(rec.snaps) != published {
		t.Fatal("closed session published a change")
	}
	if s.Snapshot().Status != StatusVerifying {
		t.Fatal("closed session state changed after close")
	}
	if s.Place(NormallyOpen, 0) {
		t.Fatal("closed session accepted an edit")
	}
}

// A stale callback that already left the scheduler queue must not act on a
// session that moved on.
func TestStaleCallbackIgnored(t *testing.T) {
	levels := twoLevels()
	s, err := NewSession(levels, Options{Scheduler: schedule.Real{}})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	placeAll(t, s, NormallyOpen, Coil)
	s.Run()

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.Reset()
	s.finishVerify(gen)

	if snap := s.Snapshot(); snap.Status != StatusIdle || snap.Score != 0 {
		t.Fatalf("stale verify callback took effect: %+v", snap)
	}
	s.Close()
}

func TestInputWidthCoversWidestLevel(t *testing.T) {
	levels, err := DefaultLevels()
	if err != nil {
		t.Fatalf("DefaultLevels failed: %v", err)
	}
	s, err := NewSession(levels, Options{Scheduler: schedule.NewManual()})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if got := len(s.Snapshot().Inputs); got != 3 {
		t.Fatalf("expected 3 input toggles, got %d", got)
	}
}

func TestChangesDeliveredInOrder(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []Snapshot
	first := true

	s, err := NewSession([]Level{emergencyStop()}, Options{
		Scheduler: schedule.NewManual(),
		OnChange: func(snap Snapshot) {
			mu.Lock()
			block := first
			first = false
			mu.Unlock()
			if block {
				close(entered)
				<-release
			}
			mu.Lock()
			delivered = append(delivered, snap)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Place(NormallyOpen, 0)
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		s.Place(NormallyClosed, 1)
	}()

	// Wait until the second placement holds the session lock; it keeps it
	// until the first delivery returns.
	deadline := time.Now().Add(2 * time.Second)
	for s.mu.TryLock() {
		s.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("second placement never started")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	<-done
	<-second

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(delivered))
	}
	if len(delivered[0].Placed) != 1 || len(delivered[1].Placed) != 2 {
		t.Fatalf("deliveries out of order: %d then %d blocks", len(delivered[0].Placed), len(delivered[1].Placed))
	}
	if delivered[0].Version >= delivered[1].Version {
		t.Fatalf("versions not increasing: %d then %d", delivered[0].Version, delivered[1].Version)
	}
	if last := delivered[1].Version; last != s.Snapshot().Version {
		t.Fatalf("last delivery version %d, session at %d", last, s.Snapshot().Version)
	}
}

func TestVersionIncreasesOnEveryChange(t *testing.T) {
	s, clock, rec := newTestSession(t, twoLevels())
	start := s.Snapshot().Version

	placeAll(t, s, NormallyOpen, Coil)
	s.ToggleInput(0)
	s.Run()
	clock.Advance(VerifyDelay + AdvanceDelay)

	prev := start
	for i, snap := range rec.snaps {
		if snap.Version <= prev {
			t.Fatalf("snapshot %d has version %d, previous %d", i, snap.Version, prev)
		}
		prev = snap.Version
	}
	if s.Place(Coil, 5) {
		t.Fatal("out-of-range placement accepted")
	}
	if s.Snapshot().Version != prev {
		t.Fatal("rejected edit changed the version")
	}
}

func TestRepeatedFailingRunsKeepOneTimer(t *testing.T) {
	s, clock, _ := newTestSession(t, twoLevels())
	placeAll(t, s, Coil, NormallyOpen)

	for i := 0; i < 50; i++ {
		if !s.Run() {
			t.Fatalf("run %d rejected", i)
		}
		s.mu.Lock()
		armed := s.pending != nil
		s.mu.Unlock()
		if !armed {
			t.Fatalf("run %d armed no timer", i)
		}
		clock.Advance(VerifyDelay)

		s.mu.Lock()
		leftover := s.pending != nil
		s.mu.Unlock()
		if leftover {
			t.Fatalf("run %d left a fired timer registered", i)
		}
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no scheduled work, got %d", clock.Pending())
	}
}
