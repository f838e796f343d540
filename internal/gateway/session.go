package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// sessionManager tracks the current MCP client session. The session id
// doubles as the client id for lease scoping: one connection, one lease
// namespace. It also remembers which tools this session drove to exhaustion,
// so a spent lease whose key is already gone still reads as exhausted rather
// than missing.
type sessionManager struct {
	mu            sync.Mutex
	id            string
	clientName    string
	clientVersion string
	exhausted     map[string]bool
}

func newSessionManager() *sessionManager {
	return &sessionManager{exhausted: make(map[string]bool)}
}

// create assigns a fresh session id at initialize. Re-initializing the same
// connection replaces the session; leases held under the old id simply age
// out via their store TTLs.
func (sm *sessionManager) create(clientInfo ClientInfo) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.id = uuid.NewString()
	sm.clientName = clientInfo.Name
	sm.clientVersion = clientInfo.Version
	sm.exhausted = make(map[string]bool)
	return sm.id
}

// markExhausted records that this session spent a tool's full call budget.
func (sm *sessionManager) markExhausted(toolID string) {
	sm.mu.Lock()
	sm.exhausted[toolID] = true
	sm.mu.Unlock()
}

// clearExhausted forgets an exhaustion once a fresh lease is granted.
func (sm *sessionManager) clearExhausted(toolID string) {
	sm.mu.Lock()
	delete(sm.exhausted, toolID)
	sm.mu.Unlock()
}

func (sm *sessionManager) wasExhausted(toolID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.exhausted[toolID]
}

// sessionID returns the current session id, empty before initialize.
func (sm *sessionManager) sessionID() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.id
}

func (sm *sessionManager) clientType() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.clientName
}
