package router

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoRuntimes = errors.New("no runtimes registered for selection")

// Router maps a request to the runtime index that should serve it. Policy
// state is a single logical resource: every Select and SetPolicy runs under
// the router's mutex so policies themselves stay lock-free.
type Router struct {
	mu          sync.Mutex
	policy      Policy
	numRuntimes int
}

// New creates a router over numRuntimes index slots.
func New(policy Policy, numRuntimes int) *Router {
	return &Router{policy: policy, numRuntimes: numRuntimes}
}

// Select returns the runtime index for the request. An empty runtime set is
// a configuration error, never a silent no-op.
func (r *Router) Select(key SelectionKey) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.numRuntimes == 0 {
		return 0, ErrNoRuntimes
	}
	idx := r.policy.Select(key, r.numRuntimes)
	if idx < 0 || idx >= r.numRuntimes {
		return 0, fmt.Errorf("policy %s selected out-of-range runtime %d of %d", r.policy.Name(), idx, r.numRuntimes)
	}
	return idx, nil
}

// SetPolicy swaps the selection policy. When both the outgoing and incoming
// policies are affinity-based, the accumulated affinity table carries over;
// otherwise routing state resets with the new policy.
func (r *Router) SetPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.policy.(affinityCarrier); ok {
		if next, ok := p.(affinityCarrier); ok {
			next.SetAffinityTable(old.AffinityTable())
		}
	}
	r.policy = p
}

// PolicyName reports the active policy, for logging.
func (r *Router) PolicyName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy.Name()
}

// NumRuntimes returns the size of the index space.
func (r *Router) NumRuntimes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numRuntimes
}
