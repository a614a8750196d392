package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "AgentGuard-Chain/internal/errors"
)

// Router maps chain identifiers to registered adapters. It is the only
// indirection between the executor and concrete chains: new chains are added
// by registering an adapter, never by modifying the pipeline.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a chain identifier. Rebinding an already
// registered identifier is refused; there is no silent overwrite.
func (r *Router) Register(name string, adapter Adapter) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "链标识不能为空")
	}
	if adapter == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "适配器不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("链 %s 已注册适配器", name),
			xerrors.WithMetadata("chain", name))
	}
	r.adapters[name] = adapter
	return nil
}

// Resolve returns the adapter bound to the given chain identifier. The error
// on a miss enumerates every currently registered chain so callers can
// self-correct.
func (r *Router) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[strings.TrimSpace(name)]
	if !ok {
		registered := r.chainsLocked()
		return nil, xerrors.New(xerrors.CodeChainNotRegistered,
			fmt.Sprintf("链 %s 未注册适配器，已注册: [%s]", name, strings.Join(registered, ", ")),
			xerrors.WithMetadata("chain", name),
			xerrors.WithMetadata("registered", strings.Join(registered, ",")))
	}
	return adapter, nil
}

// Chains returns the sorted list of registered chain identifiers.
func (r *Router) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chainsLocked()
}

func (r *Router) chainsLocked() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every registered adapter.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, adapter := range r.adapters {
		if adapter != nil {
			adapter.Close()
		}
		delete(r.adapters, name)
	}
}
