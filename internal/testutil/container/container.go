// Package container runs throwaway docker containers for integration tests.
package container

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrDisabled is returned when RAKH_SKIP_DOCKER is set.
var ErrDisabled = errors.New("container: docker fixtures disabled by RAKH_SKIP_DOCKER")

// Fixture describes one image built from a Dockerfile at the repository root.
type Fixture struct {
	Dockerfile string
	Name       string
	// Ports maps host ports to container ports.
	Ports map[string]string
	// Ready is polled until it succeeds or ReadyTimeout elapses.
	Ready        func() error
	ReadyTimeout time.Duration

	mu      sync.Mutex
	started bool
	err     error
}

// Setup builds and runs the container once per process.
func (f *Fixture) Setup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.err != nil {
		return f.err
	}
	f.err = f.start()
	f.started = f.err == nil
	return f.err
}

// Teardown stops the container started by Setup.
func (f *Fixture) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !f.started {
		return nil
	}
	f.started = false
	return f.stop()
}

func (f *Fixture) start() error {
	if os.Getenv("RAKH_SKIP_DOCKER") != "" {
		return ErrDisabled
	}
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker executable not found: %w", err)
	}
	_ = f.stop()

	root := RepoRoot()
	if err := run("build", "-f", filepath.Join(root, f.Dockerfile), "-t", f.Name, root); err != nil {
		return err
	}
	args := []string{"run", "-d", "--rm", "--name", f.Name}
	for host, ctr := range f.Ports {
		args = append(args, "-p", host+":"+ctr)
	}
	if err := run(append(args, f.Name)...); err != nil {
		return err
	}
	return f.wait()
}

func (f *Fixture) wait() error {
	if f.Ready == nil {
		return nil
	}
	timeout := f.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var err error
	for time.Now().Before(deadline) {
		if err = f.Ready(); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("%s did not become ready in %s: %w", f.Name, timeout, err)
}

func (f *Fixture) stop() error {
	cmd := exec.Command("docker", "stop", f.Name)
	cmd.Dir = RepoRoot()
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "No such container") {
			return nil
		}
		return fmt.Errorf("docker stop failed: %w: %s", err, output)
	}
	return nil
}

func run(args ...string) error {
	cmd := exec.Command("docker", args...)
	cmd.Dir = RepoRoot()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s failed: %w: %s", args[0], err, output)
	}
	return nil
}

// RepoRoot locates the module root from this file's location.
func RepoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
}
