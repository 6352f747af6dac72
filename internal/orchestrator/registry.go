package orchestrator

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// StageStatus represents the lifecycle state of a launched stage.
type StageStatus string

const (
	StatusRunning StageStatus = "running"
	StatusStopped StageStatus = "stopped"
	StatusFailed  StageStatus = "failed"
)

// StageInfo holds the identity and current state of a launched stage.
type StageInfo struct {
	Name   Name        `json:"name"`
	ID     string      `json:"id"`
	Status StageStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// Registry records every stage the pipeline launched. Stage goroutines update
// it as they exit, so it is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stages map[Name]StageInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: map[Name]StageInfo{}}
}

func (r *Registry) add(name Name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = StageInfo{Name: name, ID: id, Status: StatusRunning}
}

func (r *Registry) setStatus(name Name, status StageStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.stages[name]
	if !ok {
		return
	}
	info.Status = status
	if err != nil {
		info.Error = err.Error()
	}
	r.stages[name] = info
}

// Lookup returns the info for a stage, or false if it was never launched.
func (r *Registry) Lookup(name Name) (StageInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.stages[name]
	return info, ok
}

// StatusAll returns every launched stage in pipeline order.
func (r *Registry) StatusAll() []StageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StageInfo, 0, len(r.stages))
	for _, name := range Order {
		if info, ok := r.stages[name]; ok {
			out = append(out, info)
		}
	}
	return out
}

// WriteProcessRecord writes "vhub: <pid>" followed by one "<stage>: <id>"
// line per launched stage.
func (r *Registry) WriteProcessRecord(path string, hubPID int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "vhub: %d\n", hubPID)
	for _, info := range r.StatusAll() {
		fmt.Fprintf(&b, "%s: %s\n", info.Name, info.ID)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write process record: %w", err)
	}
	return nil
}
