package models

import "encoding/json"

// Attribute is a key/value pair attached to an event or a contract response
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a typed group of attributes emitted during execution
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// LogEntry is one record of a simulation log.
// Contract responses record their raw attributes, events and data; bank and
// instantiate steps record the module events they produced.
type LogEntry struct {
	Contract   string      `json:"contract,omitempty"`
	Kind       string      `json:"kind"`
	Attributes []Attribute `json:"attributes"`
	Events     []Event     `json:"events"`
	Data       []byte      `json:"data,omitempty"`
}

// Encode marshals the entry into its JSON log form
func (e LogEntry) Encode() string {
	if e.Attributes == nil {
		e.Attributes = []Attribute{}
	}
	if e.Events == nil {
		e.Events = []Event{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		// Only strings and byte slices; cannot fail.
		panic(err)
	}
	return string(b)
}

// WasmEvents converts a contract response into the events the chain would emit:
// attributes become a "wasm" event, custom events are prefixed with "wasm-".
// Every converted event carries the emitting contract address first.
func WasmEvents(contract string, resp *Response) []Event {
	var out []Event
	addr := Attribute{Key: "_contract_address", Value: contract}
	if len(resp.Attributes) > 0 {
		attrs := append([]Attribute{addr}, resp.Attributes...)
		out = append(out, Event{Type: "wasm", Attributes: attrs})
	}
	for _, ev := range resp.Events {
		attrs := append([]Attribute{addr}, ev.Attributes...)
		out = append(out, Event{Type: "wasm-" + ev.Type, Attributes: attrs})
	}
	return out
}
