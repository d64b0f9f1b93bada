package trace

import "cwfork/internal/metrics"

// Coverage collects one buffer per entry-point run, grouped by contract.
// Buffers are never rolled back.
type Coverage struct {
	enabled bool
	buffers map[string][][]byte
}

func NewCoverage(enabled bool) *Coverage {
	return &Coverage{enabled: enabled, buffers: make(map[string][][]byte)}
}

func (c *Coverage) Enabled() bool { return c.enabled }

func (c *Coverage) SetEnabled(enabled bool) { c.enabled = enabled }

// Capture appends buf for addr when enabled and non-empty
func (c *Coverage) Capture(addr string, buf []byte) {
	if !c.enabled || len(buf) == 0 {
		return
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	c.buffers[addr] = append(c.buffers[addr], cp)
	metrics.CoverageBuffers.Inc()
}

// ForAddress returns a copy of the buffers of addr
func (c *Coverage) ForAddress(addr string) [][]byte {
	src := c.buffers[addr]
	out := make([][]byte, len(src))
	for i, b := range src {
		out[i] = append([]byte{}, b...)
	}
	return out
}

// All returns a copy of every buffer
func (c *Coverage) All() map[string][][]byte {
	out := make(map[string][][]byte, len(c.buffers))
	for addr := range c.buffers {
		out[addr] = c.ForAddress(addr)
	}
	return out
}

// Merge appends every buffer of other, regardless of whether c is enabled
func (c *Coverage) Merge(other *Coverage) {
	for addr, bufs := range other.buffers {
		c.buffers[addr] = append(c.buffers[addr], bufs...)
	}
}
