package host

// configState is the local editing copy of a card config and the last
// config provided from outside. Guarded by Host.mu.
type configState struct {
	external map[string]any
	local    map[string]any
	dirty    bool
}

func (c *configState) reset(external map[string]any) {
	c.external = cloneConfig(external)
	c.local = cloneConfig(external)
	c.dirty = false
}

// merge shallow-merges partial into the local config and marks it dirty.
func (c *configState) merge(partial map[string]any) {
	if c.local == nil {
		c.local = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		c.local[k] = cloneValue(v)
	}
	c.dirty = true
}

// revert discards local edits.
func (c *configState) revert() {
	c.local = cloneConfig(c.external)
	c.dirty = false
}

// setExternal records a config provided from outside. Local edits are kept
// when dirty. It reports whether the local config changed.
func (c *configState) setExternal(config map[string]any) bool {
	c.external = cloneConfig(config)
	if c.dirty {
		return false
	}
	c.local = cloneConfig(config)
	return true
}

func cloneConfig(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneConfig(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
