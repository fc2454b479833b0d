package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

type fakeSession struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	failNext bool
	sessions []*fakeSession
}

func (f *fakeLauncher) Launch(profileDir string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, fmt.Errorf("launch refused")
	}
	f.launched = append(f.launched, profileDir)
	session := &fakeSession{}
	f.sessions = append(f.sessions, session)
	return session, nil
}

func newTestPool(t *testing.T, size int) (*Pool, *fakeLauncher) {
	t.Helper()

	launcher := &fakeLauncher{}
	noProc := &ProcessOps{
		FindPID: func(string) int { return 0 },
		Alive:   func(int) bool { return false },
		Kill:    func(int) error { return nil },
	}
	p, err := New(Config{
		Size:        size,
		ProfileRoot: t.TempDir(),
		CloseWait:   time.Millisecond,
		Process:     noProc,
	}, launcher, logging.Discard())
	require.NoError(t, err)
	return p, launcher
}

func TestAllocateUntilExhausted(t *testing.T) {
	p, _ := newTestPool(t, 3)

	var slots []*Slot
	for i := 0; i < 3; i++ {
		slot, err := p.Allocate("run")
		require.NoError(t, err)
		require.NotNil(t, slot)
		slots = append(slots, slot)
	}
	assert.Equal(t, 3, p.CheckedOut())
	assert.Equal(t, 0, p.Available())

	// Fourth allocation must report exhaustion, not block or retry
	slot, err := p.Allocate("run")
	assert.Nil(t, slot)
	assert.ErrorIs(t, err, ErrExhausted)

	p.Release(slots[0], false)
	assert.Equal(t, 1, p.Available())

	slot, err = p.Allocate("run")
	require.NoError(t, err)
	assert.NotNil(t, slot)
}

func TestAllocateParameterizesProfileDir(t *testing.T) {
	p, launcher := newTestPool(t, 2)

	slot, err := p.Allocate("nightly")
	require.NoError(t, err)

	assert.Contains(t, slot.ProfileDir(), "nightly-01")
	require.Len(t, launcher.launched, 1)
	assert.Equal(t, slot.ProfileDir(), launcher.launched[0])
}

func TestLaunchFailureReturnsSlot(t *testing.T) {
	p, launcher := newTestPool(t, 1)
	launcher.failNext = true

	slot, err := p.Allocate("run")
	assert.Nil(t, slot)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)

	// The slot must be usable again after the failed launch
	slot, err = p.Allocate("run")
	require.NoError(t, err)
	assert.NotNil(t, slot)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, launcher := newTestPool(t, 2)

	slot, err := p.Allocate("run")
	require.NoError(t, err)

	p.Release(slot, false)
	assert.Equal(t, 2, p.Available())
	assert.Equal(t, 1, launcher.sessions[0].closeCount())

	// Second release of the same slot: logged, ignored, no state change
	p.Release(slot, false)
	assert.Equal(t, 2, p.Available())
	assert.Equal(t, 0, p.CheckedOut())
	assert.Equal(t, 1, launcher.sessions[0].closeCount())
}

func TestReleaseClearsSlotFields(t *testing.T) {
	p, _ := newTestPool(t, 1)

	slot, err := p.Allocate("run")
	require.NoError(t, err)
	require.NotNil(t, slot.Session())

	p.Release(slot, false)
	assert.Nil(t, slot.Session())
	assert.Empty(t, slot.ProfileDir())
	assert.False(t, slot.protected)
	assert.True(t, slot.checkedOutAt.IsZero())
}

func TestEvictOlderThan(t *testing.T) {
	p, launcher := newTestPool(t, 3)

	old, err := p.Allocate("run")
	require.NoError(t, err)
	fresh, err := p.Allocate("run")
	require.NoError(t, err)

	// Age the first slot past the threshold
	p.mu.Lock()
	old.checkedOutAt = time.Now().Add(-20 * time.Second)
	p.mu.Unlock()

	result := p.EvictOlderThan(15 * time.Second)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.Evicted)

	assert.Equal(t, 1, p.CheckedOut())
	assert.Equal(t, 2, p.Available())
	assert.Equal(t, 1, launcher.sessions[0].closeCount())
	assert.Equal(t, 0, launcher.sessions[1].closeCount())
	assert.NotNil(t, fresh.Session())
}

func TestEvictionSkipsProtectedSlot(t *testing.T) {
	p, launcher := newTestPool(t, 1)

	slot, err := p.Allocate("run")
	require.NoError(t, err)

	p.mu.Lock()
	slot.checkedOutAt = time.Now().Add(-20 * time.Second)
	p.mu.Unlock()

	p.Protect(slot)
	result := p.EvictOlderThan(15 * time.Second)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Evicted)
	assert.Equal(t, 1, p.CheckedOut())
	assert.Equal(t, 0, launcher.sessions[0].closeCount())

	// Same slot, unprotected: now it goes
	p.Unprotect(slot)
	result = p.EvictOlderThan(15 * time.Second)
	assert.Equal(t, 1, result.Evicted)
	assert.Equal(t, 1, p.Available())
	assert.Equal(t, 1, launcher.sessions[0].closeCount())
}

func TestEvictionForceKillsSurvivingProcess(t *testing.T) {
	launcher := &fakeLauncher{}
	var killed []int
	proc := &ProcessOps{
		FindPID: func(string) int { return 4242 },
		Alive:   func(pid int) bool { return true },
		Kill: func(pid int) error {
			killed = append(killed, pid)
			return nil
		},
	}
	p, err := New(Config{
		Size:        1,
		ProfileRoot: t.TempDir(),
		CloseWait:   time.Millisecond,
		Process:     proc,
	}, launcher, logging.Discard())
	require.NoError(t, err)

	slot, err := p.Allocate("run")
	require.NoError(t, err)

	p.mu.Lock()
	slot.checkedOutAt = time.Now().Add(-time.Minute)
	p.mu.Unlock()

	result := p.EvictOlderThan(time.Second)
	assert.Equal(t, 1, result.Evicted)
	assert.Contains(t, killed, 4242)
}

func TestAllocateKillsOrphanFromStaleMarker(t *testing.T) {
	launcher := &fakeLauncher{}
	var killed []int
	proc := &ProcessOps{
		FindPID: func(string) int { return 0 },
		Alive:   func(pid int) bool { return pid == 9001 },
		Kill: func(pid int) error {
			killed = append(killed, pid)
			return nil
		},
	}
	root := t.TempDir()
	p, err := New(Config{
		Size:        1,
		ProfileRoot: root,
		CloseWait:   time.Millisecond,
		Process:     proc,
	}, launcher, logging.Discard())
	require.NoError(t, err)

	// Plant a stale marker where the slot's profile will land
	slot, err := p.Allocate("run")
	require.NoError(t, err)
	profileDir := slot.ProfileDir()
	p.Release(slot, false)
	require.NoError(t, writePIDFile(profileDir, 9001))

	_, err = p.Allocate("run")
	require.NoError(t, err)
	assert.Contains(t, killed, 9001)
}

func TestProtectIgnoredOnAvailableSlot(t *testing.T) {
	p, _ := newTestPool(t, 1)

	slot, err := p.Allocate("run")
	require.NoError(t, err)
	p.Release(slot, false)

	p.Protect(slot)
	assert.False(t, slot.protected)
}

func TestShutdownReleasesEverything(t *testing.T) {
	p, launcher := newTestPool(t, 2)

	_, err := p.Allocate("run")
	require.NoError(t, err)
	_, err = p.Allocate("run")
	require.NoError(t, err)

	p.Shutdown()
	assert.Equal(t, 2, p.Available())
	assert.Equal(t, 0, p.CheckedOut())
	for _, session := range launcher.sessions {
		assert.Equal(t, 1, session.closeCount())
	}
}
