package usecase

import "sync"

// Registry maps identities to their live connection and back. It is process
// state only: populated by introductions, pruned on disconnect, empty on start.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]string
	byConn     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]string),
		byConn:     make(map[string]string),
	}
}

// Bind claims identity for connID, last writer wins. It returns the connection
// that previously carried identity and the identity previously carried by connID.
func (r *Registry) Bind(identity, connID string) (prevConn, prevIdentity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevConn = r.byIdentity[identity]
	if prevConn != "" && prevConn != connID {
		delete(r.byConn, prevConn)
	}

	prevIdentity = r.byConn[connID]
	if prevIdentity != "" && prevIdentity != identity {
		if r.byIdentity[prevIdentity] == connID {
			delete(r.byIdentity, prevIdentity)
		}
	}

	r.byIdentity[identity] = connID
	r.byConn[connID] = identity

	if prevConn == connID {
		prevConn = ""
	}
	if prevIdentity == identity {
		prevIdentity = ""
	}
	return prevConn, prevIdentity
}

// Release drops the binding only if identity is still bound to connID.
func (r *Registry) Release(identity, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byIdentity[identity] != connID {
		return false
	}
	delete(r.byIdentity, identity)
	delete(r.byConn, connID)
	return true
}

func (r *Registry) IdentityOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byConn[connID]
	return identity, ok
}

func (r *Registry) ConnectionOf(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byIdentity[identity]
	return connID, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
