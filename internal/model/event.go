package model

import (
	json "github.com/goccy/go-json"
)

// Event is the canonical form every inbound tracking record is normalized
// into. It is the unit that flows through the whole pipeline: accumulator,
// postgres sink and the fan-out channel all work with this shape.
//
// ID equals the stream sequence number and is the storage primary key.
// Every other field is optional: a beacon that omits or garbles a field
// produces an Event with that field zeroed, never a parse failure.
type Event struct {
	ID         string            `json:"id"`
	ReceivedAt string            `json:"received_at"`
	Ts         string            `json:"ts,omitempty"`
	Path       string            `json:"path,omitempty"`
	URL        string            `json:"url,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Referrer   string            `json:"referrer,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	EvtType    string            `json:"evt_type,omitempty"`
	Args       map[string]any    `json:"args,omitempty"`
	Form       map[string]any    `json:"form,omitempty"`
	UserData   map[string]any    `json:"user_data,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	OrigData   json.RawMessage   `json:"orig_data,omitempty"`
}
