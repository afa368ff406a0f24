package turn

import "sync"

// PendingApprovals is the shared HIL approval registry keyed by tool-call
// id. Callers (the host UI, or a channel bridge's auto-rejecter) hold the
// lock only across register/resolve/remove, never across a blocking wait.
type PendingApprovals struct {
	mu      sync.Mutex
	pending map[string]chan ApprovalDecision
}

// NewPendingApprovals returns an empty registry.
func NewPendingApprovals() *PendingApprovals {
	return &PendingApprovals{pending: make(map[string]chan ApprovalDecision)}
}

// register creates a one-shot channel for callID and stores it, replacing
// any stale entry for the same id.
func (p *PendingApprovals) register(callID string) chan ApprovalDecision {
	ch := make(chan ApprovalDecision, 1)
	p.mu.Lock()
	p.pending[callID] = ch
	p.mu.Unlock()
	return ch
}

// remove deletes callID's entry regardless of whether it was ever resolved.
func (p *PendingApprovals) remove(callID string) {
	p.mu.Lock()
	delete(p.pending, callID)
	p.mu.Unlock()
}

// Resolve delivers a decision to callID's pending channel, if one is
// registered. Returns false if there was nothing pending (already resolved,
// timed out, or unknown id).
func (p *PendingApprovals) Resolve(callID string, allowed bool) bool {
	p.mu.Lock()
	ch, ok := p.pending[callID]
	if ok {
		delete(p.pending, callID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- ApprovalDecision{Allowed: allowed}:
	default:
	}
	return true
}

// DenyAll resolves every currently pending call as denied. Used by a
// channel bridge's auto-rejecter task: remote callers cannot authorize
// dangerous tools.
func (p *PendingApprovals) DenyAll() int {
	p.mu.Lock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	count := 0
	for _, id := range ids {
		if p.Resolve(id, false) {
			count++
		}
	}
	return count
}
