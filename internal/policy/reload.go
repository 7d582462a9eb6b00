package policy

import (
	"os"
	"sync"
	"time"
)

// Evaluator decides what happens to a command. *Policy implements it, as
// does FileEvaluator for policies that live in a file.
type Evaluator interface {
	Evaluate(command string) Decision
}

// FileEvaluator serves decisions from a YAML policy file and picks up edits
// between evaluations. The file is re-read only when its mtime changes, so
// the common path is a stat plus a read lock.
type FileEvaluator struct {
	path string

	mu      sync.RWMutex
	policy  *Policy
	modTime time.Time
}

// NewFileEvaluator loads the policy file once up front so a broken file
// fails at startup rather than mid-run.
func NewFileEvaluator(path string) (*FileEvaluator, error) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fe := &FileEvaluator{path: path, policy: p}
	if info, err := os.Stat(path); err == nil {
		fe.modTime = info.ModTime()
	}
	return fe, nil
}

// Policy returns the currently loaded policy.
func (fe *FileEvaluator) Policy() *Policy {
	fe.mu.RLock()
	defer fe.mu.RUnlock()
	return fe.policy
}

// Evaluate reloads the file if it changed and then evaluates the command.
// A reload that fails keeps the last good policy in place.
func (fe *FileEvaluator) Evaluate(command string) Decision {
	fe.maybeReload()
	return fe.Policy().Evaluate(command)
}

func (fe *FileEvaluator) maybeReload() {
	info, err := os.Stat(fe.path)
	if err != nil {
		return
	}
	fe.mu.RLock()
	fresh := info.ModTime().Equal(fe.modTime)
	fe.mu.RUnlock()
	if fresh {
		return
	}
	p, err := LoadFile(fe.path)
	if err != nil {
		return
	}
	fe.mu.Lock()
	fe.policy = p
	fe.modTime = info.ModTime()
	fe.mu.Unlock()
}
