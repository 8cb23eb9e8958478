package ladder

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isoi-kec/instrrol/internal/schedule"
)

const (
	// PointsPerLevel is awarded for every verified level.
	PointsPerLevel = 100
	// VerifyDelay is how long a run stays in the verifying state.
	VerifyDelay = 1000 * time.Millisecond
	// AdvanceDelay is the pause between a verified level and the next one.
	AdvanceDelay = 1500 * time.Millisecond

	minInputToggles = 3
)

// Snapshot is a point-in-time copy of a session for rendering.
type Snapshot struct {
	Level      LevelView     `json:"level"`
	LevelIndex int           `json:"level_index"`
	LevelCount int           `json:"level_count"`
	Placed     []PlacedBlock `json:"placed"`
	Inputs     []bool        `json:"inputs"`
	Output     bool          `json:"output"`
	Preview    bool          `json:"preview"`
	Status     Status        `json:"status"`
	Verdict    *Verdict      `json:"verdict,omitempty"`
	Advancing  bool          `json:"advancing"`
	Score      int           `json:"score"`
	Complete   bool          `json:"complete"`
	ShowHint   bool          `json:"show_hint"`
	Attempts   int           `json:"attempts"`
	// Version increases with every change; a higher version is newer state.
	Version uint64 `json:"version"`
}

// Completion describes a finished playthrough.
type Completion struct {
	Score         int
	LevelsCleared int
	Attempts      int
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Options configures a Session.
type Options struct {
	Scheduler schedule.Scheduler
	// OnChange receives a snapshot after every applied change, including the
	// delayed verification and level advance. It runs without the session lock.
	// Calls are serialized in version order, so it must not block.
	OnChange func(Snapshot)
	// OnComplete runs once when the last level is verified.
	OnComplete func(Completion)
	Now        func() time.Time
}

// Session is one player's game state. All methods are safe for concurrent use;
// rejected edits are no-ops that report false.
type Session struct {
	mu sync.Mutex
	// notifyMu is taken before mu is released so deliveries keep change order.
	notifyMu sync.Mutex

	levels     []Level
	sched      schedule.Scheduler
	onChange   func(Snapshot)
	onComplete func(Completion)
	now        func() time.Time

	levelIndex int
	placed     []PlacedBlock
	inputs     []bool
	output     bool
	status     Status
	verdict    *Verdict
	score      int
	complete   bool
	showHint   bool
	advancing  bool
	attempts   int
	startedAt  time.Time

	closed  bool
	gen     uint64
	version uint64
	// pending cancels the one outstanding verify or advance timer.
	pending schedule.Cancel
}

// NewSession starts a playthrough at the first level.
func NewSession(levels []Level, opts Options) (*Session, error) {
	if len(levels) == 0 {
		return nil, errors.New("ladder: no levels")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Real{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	width := minInputToggles
	for _, l := range levels {
		width = max(width, l.InputWidth())
	}

	s := &Session{
		levels:     levels,
		sched:      opts.Scheduler,
		onChange:   opts.OnChange,
		onComplete: opts.OnComplete,
		now:        opts.Now,
		inputs:     make([]bool, width),
		status:     StatusIdle,
		startedAt:  opts.Now(),
		version:    1,
	}
	return s, nil
}

func (s *Session) level() Level {
	return s.levels[s.levelIndex]
}

// locked reports whether edits are refused right now.
func (s *Session) locked() bool {
	return s.closed || s.complete || s.advancing || s.status == StatusVerifying
}

// Place puts a block of kind k into slot position.
func (s *Session) Place(k Kind, position int) bool {
	s.mu.Lock()
	if s.locked() {
		s.mu.Unlock()
		return false
	}
	lvl := s.level()
	block, ok := Lookup(k)
	if !ok || !lvl.Offers(k) {
		s.mu.Unlock()
		return false
	}
	if position < 0 || position >= lvl.RequiredBlocks || len(s.placed) >= lvl.RequiredBlocks {
		s.mu.Unlock()
		return false
	}
	for _, pb := range s.placed {
		if pb.Position == position {
			s.mu.Unlock()
			return false
		}
	}

	s.placed = append(s.placed, PlacedBlock{
		ID:       string(k) + "-" + uuid.NewString(),
		Block:    block,
		Position: position,
	})
	s.clearVerdict()
	s.unlockAndNotify()
	return true
}

// Remove deletes the placed block with the given id. Input toggles are kept.
func (s *Session) Remove(id string) bool {
	s.mu.Lock()
	if s.locked() {
		s.mu.Unlock()
		return false
	}
	idx := -1
	for i, pb := range s.placed {
		if pb.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	s.placed = append(s.placed[:idx], s.placed[idx+1:]...)
	s.output = false
	s.clearVerdict()
	s.unlockAndNotify()
	return true
}

// ToggleInput flips live-preview input i.
func (s *Session) ToggleInput(i int) bool {
	s.mu.Lock()
	if s.locked() || i < 0 || i >= len(s.inputs) {
		s.mu.Unlock()
		return false
	}
	s.inputs[i] = !s.inputs[i]
	s.unlockAndNotify()
	return true
}

// ToggleHint shows or hides the level hints.
func (s *Session) ToggleHint() bool {
	s.mu.Lock()
	if s.closed || s.complete {
		s.mu.Unlock()
		return false
	}
	s.showHint = !s.showHint
	s.unlockAndNotify()
	return true
}

// Run evaluates the rung against the current toggles and starts verification.
// The verdict lands after VerifyDelay.
func (s *Session) Run() bool {
	s.mu.Lock()
	if s.locked() {
		s.mu.Unlock()
		return false
	}

	s.status = StatusVerifying
	s.verdict = nil
	s.output = Evaluate(s.placed, s.inputs)
	s.attempts++
	gen := s.gen
	s.pending = s.sched.After(VerifyDelay, func() { s.finishVerify(gen) })
	s.unlockAndNotify()
	return true
}

func (s *Session) finishVerify(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.status != StatusVerifying {
		s.mu.Unlock()
		return
	}
	s.pending = nil

	v := Verify(s.level(), s.placed)
	s.verdict = &v
	s.status = v.Status
	if v.Status != StatusSuccess {
		s.unlockAndNotify()
		return
	}

	s.score += PointsPerLevel
	if s.levelIndex < len(s.levels)-1 {
		s.advancing = true
		s.pending = s.sched.After(AdvanceDelay, func() { s.advance(gen) })
		s.unlockAndNotify()
		return
	}

	s.complete = true
	done := Completion{
		Score:         s.score,
		LevelsCleared: len(s.levels),
		Attempts:      s.attempts,
		StartedAt:     s.startedAt,
		CompletedAt:   s.now(),
	}
	onComplete := s.onComplete
	s.unlockAndNotify()
	if onComplete != nil {
		onComplete(done)
	}
}

func (s *Session) advance(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen || !s.advancing {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.levelIndex++
	s.resetLevel()
	s.unlockAndNotify()
}

// Reset clears the current level's rung. Score and level are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.resetLevel()
	s.unlockAndNotify()
}

// Restart begins a new playthrough from the first level with zero score.
func (s *Session) Restart() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.levelIndex = 0
	s.score = 0
	s.attempts = 0
	s.complete = false
	s.startedAt = s.now()
	s.resetLevel()
	s.unlockAndNotify()
}

// Close tears the session down. Pending delayed work becomes a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelPending()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) resetLevel() {
	s.cancelPending()
	s.placed = nil
	s.output = false
	s.status = StatusIdle
	s.verdict = nil
	s.advancing = false
	s.showHint = false
	for i := range s.inputs {
		s.inputs[i] = false
	}
}

func (s *Session) clearVerdict() {
	if s.status == StatusSuccess || s.status == StatusError {
		s.status = StatusIdle
		s.verdict = nil
	}
}

// cancelPending stops delayed work and invalidates callbacks already queued.
func (s *Session) cancelPending() {
	s.gen++
	if s.pending != nil {
		s.pending()
		s.pending = nil
	}
}

func (s *Session) snapshot() Snapshot {
	placed := sortedByPosition(s.placed)
	snap := Snapshot{
		Level:      s.level().View(s.levelIndex),
		LevelIndex: s.levelIndex,
		LevelCount: len(s.levels),
		Placed:     placed,
		Inputs:     append([]bool(nil), s.inputs...),
		Output:     s.output,
		Preview:    Evaluate(placed, s.inputs),
		Status:     s.status,
		Advancing:  s.advancing,
		Score:      s.score,
		Complete:   s.complete,
		ShowHint:   s.showHint,
		Attempts:   s.attempts,
		Version:    s.version,
	}
	if s.verdict != nil {
		v := *s.verdict
		snap.Verdict = &v
	}
	return snap
}

// unlockAndNotify bumps the version, releases the lock and publishes the new
// state. notifyMu is acquired while mu is still held, so a later change cannot
// be delivered ahead of this one.
func (s *Session) unlockAndNotify() {
	s.version++
	snap := s.snapshot()
	fn := s.onChange
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
