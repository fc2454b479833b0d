package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// ErrExhausted is returned by Allocate when every slot is checked out.
// Callers treat this as "no capacity"; the pool never retries internally.
var ErrExhausted = errors.New("session pool exhausted")

// Session is the live automation handle a slot carries while checked out.
type Session interface {
	Close() error
}

// Launcher starts a browser session bound to a profile directory. The
// production implementation wraps the Playwright driver; tests inject fakes.
type Launcher interface {
	Launch(profileDir string) (Session, error)
}

// Slot pairs a persistent profile directory with a live browser session.
// Exactly one of {available, checked-out} holds at any time; the session
// handle is non-nil iff the slot is checked out.
type Slot struct {
	// ID is the stable slot number (1..pool size)
	ID int

	profileDir   string
	session      Session
	pid          int
	checkedOutAt time.Time
	protected    bool
}

// Session returns the live session handle, nil when the slot is available.
func (s *Slot) Session() Session {
	return s.session
}

// ProfileDir returns the profile directory the slot is currently bound to.
func (s *Slot) ProfileDir() string {
	return s.profileDir
}

// ProcessOps abstracts orphan-process handling so the pool can be tested
// without real browser processes.
type ProcessOps struct {
	FindPID func(profileDir string) int
	Alive   func(pid int) bool
	Kill    func(pid int) error
}

func defaultProcessOps() ProcessOps {
	return ProcessOps{
		FindPID: findBrowserPID,
		Alive:   processAlive,
		Kill:    killProcess,
	}
}

// Config configures a Pool.
type Config struct {
	// Size is the fixed number of slots
	Size int

	// ProfileRoot is the directory holding per-slot profile directories
	ProfileRoot string

	// CloseWait is how long an eviction waits after a best-effort close
	// before force-killing the backing process
	CloseWait time.Duration

	// Process overrides orphan-process handling (tests only)
	Process *ProcessOps
}

// Pool owns a fixed set of session slots and is the only component that
// mutates their bookkeeping. All slot state is serialized by one mutex:
// the eviction timer runs on its own goroutine.
type Pool struct {
	mu        sync.Mutex
	launcher  Launcher
	logger    *logging.Logger
	root      string
	closeWait time.Duration
	proc      ProcessOps

	free []*Slot
	busy map[int]*Slot
}

// New creates a pool with cfg.Size slots, all available.
func New(cfg Config, launcher Launcher, logger *logging.Logger) (*Pool, error) {
	if cfg.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", cfg.Size)
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	proc := defaultProcessOps()
	if cfg.Process != nil {
		proc = *cfg.Process
	}
	closeWait := cfg.CloseWait
	if closeWait == 0 {
		closeWait = 200 * time.Millisecond
	}

	p := &Pool{
		launcher:  launcher,
		logger:    logger,
		root:      cfg.ProfileRoot,
		closeWait: closeWait,
		proc:      proc,
		busy:      make(map[int]*Slot),
	}
	for i := 1; i <= cfg.Size; i++ {
		p.free = append(p.free, &Slot{ID: i})
	}
	return p, nil
}

// Allocate checks out one slot, parameterizing its profile directory with
// runContext, and launches a browser session for it. Returns ErrExhausted
// when no slot is available.
func (p *Pool) Allocate(runContext string) (*Slot, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		return nil, ErrExhausted
	}
	slot := p.free[0]
	p.free = p.free[1:]
	p.mu.Unlock()

	profileDir := filepath.Join(p.root, fmt.Sprintf("%s-%02d", runContext, slot.ID))

	// A stale PID marker means a previous process was never reaped
	if pid := readPIDFile(profileDir); pid > 0 && p.proc.Alive(pid) {
		p.logger.Warnf("slot %d: killing orphaned process %d before relaunch", slot.ID, pid)
		if err := p.proc.Kill(pid); err != nil {
			p.logger.Errorf("slot %d: failed to kill orphan %d: %v", slot.ID, pid, err)
		}
	}
	removePIDFile(profileDir)

	if err := os.MkdirAll(profileDir, 0750); err != nil {
		p.putBack(slot)
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	session, err := p.launcher.Launch(profileDir)
	if err != nil {
		p.putBack(slot)
		return nil, fmt.Errorf("failed to launch session for slot %d: %w", slot.ID, err)
	}

	pid := p.proc.FindPID(profileDir)
	if pid > 0 {
		if err := writePIDFile(profileDir, pid); err != nil {
			p.logger.Warnf("slot %d: failed to write pid marker: %v", slot.ID, err)
		}
	}

	p.mu.Lock()
	slot.profileDir = profileDir
	slot.session = session
	slot.pid = pid
	slot.checkedOutAt = time.Now()
	slot.protected = false
	p.busy[slot.ID] = slot
	p.mu.Unlock()

	p.logger.Infof("slot %d allocated (profile %s, pid %d)", slot.ID, profileDir, pid)
	return slot, nil
}

func (p *Pool) putBack(slot *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, slot)
}

// Release returns a slot to the pool, closing its session best-effort.
// Releasing an already-available slot is logged and ignored. When
// purgeProfile is set the profile directory is deleted as well.
func (p *Pool) Release(slot *Slot, purgeProfile bool) {
	p.mu.Lock()
	if _, checkedOut := p.busy[slot.ID]; !checkedOut {
		p.mu.Unlock()
		p.logger.Warnf("slot %d: release of an available slot ignored", slot.ID)
		return
	}
	session := slot.session
	pid := slot.pid
	profileDir := slot.profileDir
	p.reclaimLocked(slot)
	p.mu.Unlock()

	p.closeSession(slot.ID, session, pid)
	removePIDFile(profileDir)
	if purgeProfile {
		if err := os.RemoveAll(profileDir); err != nil {
			p.logger.Warnf("slot %d: failed to purge profile: %v", slot.ID, err)
		}
	}
	p.logger.Infof("slot %d released", slot.ID)
}

// reclaimLocked resets a slot's fields and moves it to available.
// Caller holds p.mu.
func (p *Pool) reclaimLocked(slot *Slot) {
	delete(p.busy, slot.ID)
	slot.profileDir = ""
	slot.session = nil
	slot.pid = 0
	slot.checkedOutAt = time.Time{}
	slot.protected = false
	p.free = append(p.free, slot)
}

// closeSession closes a session best-effort and force-kills the backing
// process if it survives the close.
func (p *Pool) closeSession(slotID int, session Session, pid int) {
	if session != nil {
		if err := session.Close(); err != nil {
			p.logger.Warnf("slot %d: session close failed: %v", slotID, err)
		}
	}
	if pid > 0 {
		time.Sleep(p.closeWait)
		if p.proc.Alive(pid) {
			p.logger.Warnf("slot %d: process %d still alive after close, force-killing", slotID, pid)
			if err := p.proc.Kill(pid); err != nil {
				p.logger.Errorf("slot %d: force-kill of %d failed: %v", slotID, pid, err)
			}
		}
	}
}

// Protect exempts a checked-out slot from age-based eviction. Brackets a
// whole multi-account run.
func (p *Pool) Protect(slot *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, checkedOut := p.busy[slot.ID]; !checkedOut {
		p.logger.Warnf("slot %d: protect of an available slot ignored", slot.ID)
		return
	}
	slot.protected = true
}

// Unprotect lifts the eviction exemption.
func (p *Pool) Unprotect(slot *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot.protected = false
}

// SweepResult reports one eviction pass.
type SweepResult struct {
	Checked int
	Evicted int
}

// EvictOlderThan reclaims every unprotected checked-out slot older than
// maxAge. Per-slot failures are logged and isolated; they never abort the
// rest of the sweep.
func (p *Pool) EvictOlderThan(maxAge time.Duration) SweepResult {
	now := time.Now()

	type victim struct {
		slot    *Slot
		session Session
		pid     int
		dir     string
		age     time.Duration
	}

	p.mu.Lock()
	var result SweepResult
	var victims []victim
	for _, slot := range p.busy {
		result.Checked++
		if slot.protected {
			p.logger.Debugf("slot %d: protected, skipping eviction", slot.ID)
			continue
		}
		age := now.Sub(slot.checkedOutAt)
		if age <= maxAge {
			continue
		}
		victims = append(victims, victim{slot, slot.session, slot.pid, slot.profileDir, age})
	}
	p.mu.Unlock()

	for _, v := range victims {
		p.logger.Infof("slot %d: evicting (age %s, limit %s)", v.slot.ID, v.age.Round(time.Second), maxAge)
		p.closeSession(v.slot.ID, v.session, v.pid)
		removePIDFile(v.dir)

		p.mu.Lock()
		if _, stillBusy := p.busy[v.slot.ID]; stillBusy {
			p.reclaimLocked(v.slot)
			result.Evicted++
		}
		p.mu.Unlock()
	}

	return result
}

// RunEvictionLoop runs the age-eviction sweep on a fixed timer until ctx is
// cancelled. This is the pool's only autonomous action and runs
// independently of the task pipeline.
func (p *Pool) RunEvictionLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := p.EvictOlderThan(maxAge)
			if result.Evicted > 0 {
				p.logger.Infof("eviction sweep: %d checked, %d evicted", result.Checked, result.Evicted)
			} else {
				p.logger.Debugf("eviction sweep: %d checked, none evicted", result.Checked)
			}
		}
	}
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// CheckedOut returns the number of checked-out slots.
func (p *Pool) CheckedOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// Shutdown releases every checked-out slot. Called at process exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	slots := make([]*Slot, 0, len(p.busy))
	for _, slot := range p.busy {
		slots = append(slots, slot)
	}
	p.mu.Unlock()

	for _, slot := range slots {
		p.Release(slot, false)
	}
}
