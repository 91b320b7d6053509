package coordinator

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fwdproxy/internal/console"
)

// Environment variables that select the worker role in a spawned child
const (
	EnvRole      = "FWDPROXY_ROLE"
	EnvIPCSocket = "FWDPROXY_IPC_SOCKET"
	RoleWorker   = "worker"
)

const spawnRetryDelay = time.Second

// Process is a running worker
type Process interface {
	Pid() int
	// Wait blocks until the process exits
	Wait() error
	Kill() error
}

// Spawner starts worker processes
type Spawner interface {
	Spawn() (Process, error)
}

// ExecSpawner re-executes the current binary in the worker role
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
}

// NewExecSpawner creates a spawner whose children dial socketPath
func NewExecSpawner(socketPath string) (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &ExecSpawner{
		Path: exe,
		Args: os.Args[1:],
		Env: []string{
			EnvRole + "=" + RoleWorker,
			EnvIPCSocket + "=" + socketPath,
		},
	}, nil
}

// Spawn implements Spawner
func (s *ExecSpawner) Spawn() (Process, error) {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error { return p.cmd.Wait() }
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

var errStopped = errors.New("supervisor stopped")

// Supervisor keeps a fixed number of workers alive. Every exit is
// reported once through the console and answered with one replacement.
type Supervisor struct {
	spawner      Spawner
	count        int
	restartDelay time.Duration
	sink         console.Sink
	metrics      *Metrics
	logger       zerolog.Logger

	procs   map[int]Process
	stopped bool
	stopCh  chan struct{}
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor for count workers
func NewSupervisor(spawner Spawner, count int, restartDelay time.Duration, sink console.Sink, metrics *Metrics, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		spawner:      spawner,
		count:        count,
		restartDelay: restartDelay,
		sink:         sink,
		metrics:      metrics,
		logger:       logger.With().Str("component", "supervisor").Logger(),
		procs:        make(map[int]Process),
		stopCh:       make(chan struct{}),
	}
}

// Start spawns the initial pool
func (s *Supervisor) Start() error {
	for i := 0; i < s.count; i++ {
		if err := s.spawn(); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of live workers
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Pids returns the pids of the live workers
func (s *Supervisor) Pids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	return pids
}

func (s *Supervisor) spawn() error {
	p, err := s.spawner.Spawn()
	if err != nil {
		return fmt.Errorf("failed to spawn worker: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		p.Kill()
		p.Wait()
		return errStopped
	}
	s.procs[p.Pid()] = p
	n := len(s.procs)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SetWorkers(n)
	s.logger.Debug().Int("pid", p.Pid()).Msg("worker spawned")

	go s.watch(p)
	return nil
}

func (s *Supervisor) watch(p Process) {
	defer s.wg.Done()

	err := p.Wait()

	s.mu.Lock()
	delete(s.procs, p.Pid())
	n := len(s.procs)
	stopped := s.stopped
	s.mu.Unlock()

	s.metrics.SetWorkers(n)
	if stopped {
		return
	}

	s.logger.Debug().Err(err).Int("pid", p.Pid()).Msg("worker exited")
	s.sink.LogError(fmt.Sprintf("Worker %d died. Restarting...", p.Pid()))
	s.metrics.RecordRestart()

	delay := s.restartDelay
	for {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-s.stopCh:
				return
			}
		}

		err := s.spawn()
		if err == nil || errors.Is(err, errStopped) {
			return
		}
		s.logger.Error().Err(err).Msg("failed to respawn worker")
		if delay < spawnRetryDelay {
			delay = spawnRetryDelay
		}
	}
}

// Stop kills every worker and waits for the watchers to finish
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	procs := make([]Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		if err := p.Kill(); err != nil {
			s.logger.Debug().Err(err).Int("pid", p.Pid()).Msg("failed to kill worker")
		}
	}

	s.wg.Wait()
	s.logger.Info().Msg("all workers stopped")
}
