package domain

// ReplayContext is the process-scoped scratch state for a single replay
// pass: flags like "paid" or "packaged" that handlers set and conditions
// read, avoiding redundant event rescans. It is created fresh per pass,
// never persisted, and never shared across processes.
//
// Action bodies never see the live context. Each one receives a frozen
// Snapshot, so a body that outlives its timeout cannot race the mutators
// of later events.
type ReplayContext struct {
	flags  map[string]bool
	values map[string]any
	frozen bool
}

// NewReplayContext creates an empty context for one replay pass.
func NewReplayContext() *ReplayContext {
	return &ReplayContext{
		flags:  make(map[string]bool),
		values: make(map[string]any),
	}
}

// SetFlag raises a named flag. Panics if the context is frozen: handlers
// and conditions may write, action bodies may not.
func (c *ReplayContext) SetFlag(name string) {
	c.ensureMutable()
	c.flags[name] = true
}

// ClearFlag lowers a named flag.
func (c *ReplayContext) ClearFlag(name string) {
	c.ensureMutable()
	delete(c.flags, name)
}

// Flag reports whether a named flag is raised.
func (c *ReplayContext) Flag(name string) bool {
	return c.flags[name]
}

// Set stores an arbitrary scratch value.
func (c *ReplayContext) Set(key string, value any) {
	c.ensureMutable()
	c.values[key] = value
}

// Value returns a stored scratch value.
func (c *ReplayContext) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Freeze makes the context read-only.
func (c *ReplayContext) Freeze() { c.frozen = true }

// Unfreeze restores write access.
func (c *ReplayContext) Unfreeze() { c.frozen = false }

// Snapshot returns a frozen copy of the context for handing to an action
// body. The copy shares nothing with the live context.
func (c *ReplayContext) Snapshot() *ReplayContext {
	cp := &ReplayContext{
		flags:  make(map[string]bool, len(c.flags)),
		values: make(map[string]any, len(c.values)),
		frozen: true,
	}
	for k, v := range c.flags {
		cp.flags[k] = v
	}
	for k, v := range c.values {
		cp.values[k] = v
	}
	return cp
}

func (c *ReplayContext) ensureMutable() {
	if c.frozen {
		panic("replay context is read-only during action execution")
	}
}
