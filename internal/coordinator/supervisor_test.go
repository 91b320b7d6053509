package coordinator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid  int
	exit chan error
	once sync.Once
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() error { return <-p.exit }

func (p *fakeProcess) Kill() error {
	p.Crash(errors.New("killed"))
	return nil
}

// Crash makes Wait return err
func (p *fakeProcess) Crash(err error) {
	p.once.Do(func() {
		p.exit <- err
		close(p.exit)
	})
}

type fakeSpawner struct {
	mu      sync.Mutex
	nextPid int
	spawned []*fakeProcess
	failing int
}

func (s *fakeSpawner) Spawn() (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing > 0 {
		s.failing--
		return nil, errors.New("fork failed")
	}
	s.nextPid++
	p := &fakeProcess{pid: s.nextPid, exit: make(chan error, 1)}
	s.spawned = append(s.spawned, p)
	return p, nil
}

func (s *fakeSpawner) Spawned() []*fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeProcess(nil), s.spawned...)
}

func TestSupervisor_StartSpawnsPool(t *testing.T) {
	spawner := &fakeSpawner{}
	metrics := NewMetrics()
	sup := NewSupervisor(spawner, 3, 0, &recordingSink{}, metrics, zerolog.Nop())

	require.NoError(t, sup.Start())
	t.Cleanup(sup.Stop)

	require.Len(t, spawner.Spawned(), 3)
	require.Equal(t, 3, sup.Count())
	require.ElementsMatch(t, []int{1, 2, 3}, sup.Pids())
	require.Equal(t, 3.0, testutil.ToFloat64(metrics.workers))
}

func TestSupervisor_StartFailure(t *testing.T) {
	spawner := &fakeSpawner{failing: 1}
	sup := NewSupervisor(spawner, 2, 0, &recordingSink{}, NewMetrics(), zerolog.Nop())

	require.Error(t, sup.Start())
	sup.Stop()
}

func TestSupervisor_CrashRespawnsExactlyOne(t *testing.T) {
	spawner := &fakeSpawner{}
	sink := &recordingSink{}
	metrics := NewMetrics()
	sup := NewSupervisor(spawner, 2, 0, sink, metrics, zerolog.Nop())
	require.NoError(t, sup.Start())
	t.Cleanup(sup.Stop)

	spawner.Spawned()[0].Crash(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		return len(spawner.Spawned()) == 3 && sup.Count() == 2
	}, 2*time.Second, 5*time.Millisecond)

	// no further spawns after the replacement
	time.Sleep(50 * time.Millisecond)
	require.Len(t, spawner.Spawned(), 3)
	require.Equal(t, []string{"Worker 1 died. Restarting..."}, sink.Errors())
	require.ElementsMatch(t, []int{2, 3}, sup.Pids())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.restarts))
}

func TestSupervisor_CleanExitAlsoRespawns(t *testing.T) {
	spawner := &fakeSpawner{}
	sink := &recordingSink{}
	sup := NewSupervisor(spawner, 1, 0, sink, NewMetrics(), zerolog.Nop())
	require.NoError(t, sup.Start())
	t.Cleanup(sup.Stop)

	spawner.Spawned()[0].Crash(nil)

	require.Eventually(t, func() bool {
		return len(spawner.Spawned()) == 2 && sup.Count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, sink.Errors(), 1)
}

func TestSupervisor_RestartDelay(t *testing.T) {
	spawner := &fakeSpawner{}
	sup := NewSupervisor(spawner, 1, 100*time.Millisecond, &recordingSink{}, NewMetrics(), zerolog.Nop())
	require.NoError(t, sup.Start())
	t.Cleanup(sup.Stop)

	start := time.Now()
	spawner.Spawned()[0].Crash(errors.New("exit status 2"))

	require.Eventually(t, func() bool {
		return len(spawner.Spawned()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestSupervisor_StopDoesNotRespawn(t *testing.T) {
	spawner := &fakeSpawner{}
	sink := &recordingSink{}
	sup := NewSupervisor(spawner, 2, 0, sink, NewMetrics(), zerolog.Nop())
	require.NoError(t, sup.Start())

	sup.Stop()

	require.Len(t, spawner.Spawned(), 2)
	require.Zero(t, sup.Count())
	require.Empty(t, sink.Errors())

	// second stop is a no-op
	sup.Stop()
}
