package engine

import (
	"encoding/json"

	"cwfork/internal/metrics"
	"cwfork/internal/models"
	"cwfork/internal/trace"
)

// Result is the outcome of a top-level call. It is immutable.
type Result struct {
	logs     []string
	events   []models.Event
	err      *CallError
	stdout   string
	trace    trace.Snapshot
	coverage map[string][][]byte
	data     []byte
	height   uint64
}

func (x *execution) result(err error, data []byte, events []models.Event, height uint64) *Result {
	x.e.coverage.Merge(x.coverage)

	r := &Result{
		logs:     append([]string{}, x.logs...),
		events:   append([]models.Event{}, events...),
		stdout:   x.stdout.String(),
		trace:    x.trace.Snapshot(),
		coverage: x.coverage.All(),
		data:     data,
		height:   height,
	}
	if err != nil {
		r.err = Classify(err)
		r.logs = []string{}
		r.events = []models.Event{}
		r.data = nil
		metrics.ErrorsTotal.WithLabelValues(string(r.err.Kind)).Inc()
	}
	return r
}

// Log returns the JSON log entries in emission order. Empty if the call failed.
func (r *Result) Log() []string {
	return append([]string{}, r.logs...)
}

// Events returns the chain events of a successful call
func (r *Result) Events() []models.Event {
	return append([]models.Event{}, r.events...)
}

// ErrMsg returns the failure message, or "" on success
func (r *Result) ErrMsg() string {
	if r.err == nil {
		return ""
	}
	return r.err.Error()
}

// Err returns the failure as a *CallError, or nil on success
func (r *Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// ErrKind returns the failure kind, or "" on success
func (r *Result) ErrKind() Kind {
	if r.err == nil {
		return ""
	}
	return r.err.Kind
}

func (r *Result) Failed() bool { return r.err != nil }

// Stdout is everything printed through the printer pseudo-contract
func (r *Result) Stdout() string { return r.stdout }

// CallTrace returns the call graph and node labels. Node 0 is the root.
func (r *Result) CallTrace() (map[int][]int, map[int]string) {
	graph := make(map[int][]int, len(r.trace.Graph))
	for id, children := range r.trace.Graph {
		graph[id] = append([]int{}, children...)
	}
	labels := make(map[int]string, len(r.trace.Labels))
	for id, label := range r.trace.Labels {
		labels[id] = label
	}
	return graph, labels
}

// CodeCoverageForAddress returns the coverage buffers captured for addr
func (r *Result) CodeCoverageForAddress(addr string) [][]byte {
	src := r.coverage[addr]
	out := make([][]byte, len(src))
	for i, b := range src {
		out[i] = append([]byte{}, b...)
	}
	return out
}

// Data is the response data of the top-level call, or the answer of a query
func (r *Result) Data() []byte {
	if r.data == nil {
		return nil
	}
	return append([]byte{}, r.data...)
}

// Height is the block the call executed in
func (r *Result) Height() uint64 { return r.height }

// ContractAddress returns the first contract created by the call
func (r *Result) ContractAddress() string {
	for _, ev := range r.events {
		if ev.Type != "instantiate" {
			continue
		}
		for _, attr := range ev.Attributes {
			if attr.Key == "_contract_address" {
				return attr.Value
			}
		}
	}
	return ""
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Logs      []string       `json:"logs"`
		Error     string         `json:"error,omitempty"`
		ErrorKind Kind           `json:"error_kind,omitempty"`
		Stdout    string         `json:"stdout,omitempty"`
		CallTrace trace.Snapshot `json:"call_trace"`
		Data      []byte         `json:"data,omitempty"`
		Height    uint64         `json:"height"`
	}{
		Logs:      r.Log(),
		Error:     r.ErrMsg(),
		ErrorKind: r.ErrKind(),
		Stdout:    r.stdout,
		CallTrace: r.trace,
		Data:      r.data,
		Height:    r.height,
	})
}
