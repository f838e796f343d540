package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Bootstrap tool names. These are the only tools a fresh client can see and
// call; they are exempt from policy in every governance mode.
const (
	ToolSearch       = "search_tools"
	ToolGetSchema    = "get_tool_schema"
	ToolExpandSchema = "expand_tool_schema"
)

// schemaMinTokenBudget caps the size of minimized schemas so progressive
// discovery actually saves context.
const schemaMinTokenBudget = 50

// Registry is the authoritative, read-mostly tool catalog. It is immutable
// after load in production; Insert exists for tests.
type Registry struct {
	tools   map[string]*ToolRecord
	servers map[string]ServerRecord
	order   []string // tool ids sorted for deterministic iteration
}

// New builds a registry from validated records. Duplicate tool ids and
// records referencing unknown servers are rejected.
func New(servers []ServerRecord, tools []ToolRecord) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]*ToolRecord, len(tools)),
		servers: make(map[string]ServerRecord, len(servers)),
	}
	for _, s := range servers {
		if s.ID == "" {
			return nil, fmt.Errorf("server id is required")
		}
		if _, dup := r.servers[s.ID]; dup {
			return nil, fmt.Errorf("duplicate server id %q", s.ID)
		}
		r.servers[s.ID] = s
	}
	for i := range tools {
		t := tools[i]
		if err := r.insert(&t); err != nil {
			return nil, err
		}
	}
	sort.Strings(r.order)
	return r, nil
}

func (r *Registry) insert(t *ToolRecord) error {
	if err := t.validate(); err != nil {
		return err
	}
	if _, dup := r.tools[t.ToolID]; dup {
		return fmt.Errorf("duplicate tool id %q", t.ToolID)
	}
	if _, ok := r.servers[t.ServerID]; !ok {
		return fmt.Errorf("tool %q: unknown server %q", t.ToolID, t.ServerID)
	}
	r.tools[t.ToolID] = t
	r.order = append(r.order, t.ToolID)
	return nil
}

// Insert adds a record after construction. Tests only; production registries
// are immutable once loaded.
func (r *Registry) Insert(t ToolRecord) error {
	if err := r.insert(&t); err != nil {
		return err
	}
	sort.Strings(r.order)
	return nil
}

// Get returns the record for a tool id, or nil if unregistered.
func (r *Registry) Get(toolID string) *ToolRecord {
	return r.tools[toolID]
}

// IsRegistered reports whether a tool id exists in the catalog.
func (r *Registry) IsRegistered(toolID string) bool {
	_, ok := r.tools[toolID]
	return ok
}

// GetAll returns all records ordered by tool id.
func (r *Registry) GetAll() []*ToolRecord {
	out := make([]*ToolRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tools[id])
	}
	return out
}

// GetServer returns the descriptor for a server id, or false if unknown.
func (r *Registry) GetServer(id string) (ServerRecord, bool) {
	s, ok := r.servers[id]
	return s, ok
}

// BootstrapTools returns the constant bootstrap tool set.
func BootstrapTools() []string {
	return []string{ToolSearch, ToolGetSchema, ToolExpandSchema}
}

// IsBootstrap reports whether a tool name belongs to the bootstrap set.
func IsBootstrap(name string) bool {
	switch name {
	case ToolSearch, ToolGetSchema, ToolExpandSchema:
		return true
	}
	return false
}

// schemaTokenCount approximates the token cost of a schema as its
// whitespace-split word count.
func schemaTokenCount(schema []byte) int {
	return len(strings.Fields(string(schema)))
}
