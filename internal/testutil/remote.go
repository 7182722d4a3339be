package testutil

import (
	"context"
	"sync"

	"github.com/iangow/db2pq/internal/core"
)

// StubRemote returns a canned listing for every command and records the
// commands it was asked to run.
type StubRemote struct {
	mu       sync.Mutex
	Output   string
	Err      error
	Commands []string
}

func (r *StubRemote) RunRemote(ctx context.Context, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, command)
	if r.Err != nil {
		return "", r.Err
	}
	return r.Output, nil
}

var _ core.RemoteExecutor = (*StubRemote)(nil)
