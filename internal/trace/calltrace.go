// Package trace records the call graph and coverage buffers of a session.
package trace

import (
	"fmt"
	"unicode/utf8"
)

// maxLabelMsg bounds the message part of a label
const maxLabelMsg = 256

// TopLabel names the root node of every call trace
const TopLabel = "top"

// CallTrace records a call graph as adjacency lists. Node 0 is the root.
// A disabled trace ignores every call.
type CallTrace struct {
	enabled bool
	current int
	graph   map[int][]int
	labels  map[int]string
}

// Snapshot is an immutable copy of a CallTrace
type Snapshot struct {
	Graph  map[int][]int  `json:"graph"`
	Labels map[int]string `json:"labels"`
}

// NewCallTrace returns a trace holding only the root node
func NewCallTrace(enabled bool) *CallTrace {
	t := &CallTrace{enabled: enabled}
	t.Reset()
	return t
}

// Reset drops everything but the root
func (t *CallTrace) Reset() {
	t.current = 0
	t.graph = map[int][]int{0: {}}
	t.labels = map[int]string{0: TopLabel}
}

func (t *CallTrace) Enabled() bool { return t.enabled }

// SetEnabled turns recording on or off
func (t *CallTrace) SetEnabled(enabled bool) { t.enabled = enabled }

// Begin adds a child of the current node and descends into it.
// It returns the previous node, to be handed back to End.
func (t *CallTrace) Begin(label string) int {
	if !t.enabled {
		return t.current
	}
	parent := t.current
	id := len(t.labels)
	t.labels[id] = label
	t.graph[id] = []int{}
	t.graph[parent] = append(t.graph[parent], id)
	t.current = id
	return parent
}

// End returns to parent
func (t *CallTrace) End(parent int) {
	if !t.enabled {
		return
	}
	t.current = parent
}

// Fail adds an error leaf under the current node
func (t *CallTrace) Fail(msg string) {
	if !t.enabled {
		return
	}
	id := len(t.labels)
	t.labels[id] = msg
	t.graph[id] = []int{}
	t.graph[t.current] = append(t.graph[t.current], id)
}

// Snapshot deep-copies the graph
func (t *CallTrace) Snapshot() Snapshot {
	s := Snapshot{
		Graph:  make(map[int][]int, len(t.graph)),
		Labels: make(map[int]string, len(t.labels)),
	}
	for id, children := range t.graph {
		s.Graph[id] = append([]int{}, children...)
	}
	for id, label := range t.labels {
		s.Labels[id] = label
	}
	return s
}

// Label formats a node label as "addr:kind(msg)"
func Label(addr, kind string, msg []byte) string {
	text := string(msg)
	if len(text) > maxLabelMsg {
		cut := maxLabelMsg
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return fmt.Sprintf("%s:%s(%s)", addr, kind, text)
}
