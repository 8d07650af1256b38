// Package normalize converts raw stream payloads into the canonical
// model.Event. A payload is one tracking request captured by the edge
// collector; GET pixels and POST beacons carry different nested shapes,
// so each method has its own parse path.
package normalize

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/bcambel/kinesis2/internal/model"
)

// EvtTypePixel marks an event captured through the tracking pixel.
const EvtTypePixel = "pv"

type Normalizer struct {
	pixelPath string
	now       func() time.Time
}

func New(pixelPath string) *Normalizer {
	return &Normalizer{
		pixelPath: pixelPath,
		now:       time.Now,
	}
}

// NewWithClock lets tests pin the ingestion timestamp.
func NewWithClock(pixelPath string, now func() time.Time) *Normalizer {
	return &Normalizer{
		pixelPath: pixelPath,
		now:       now,
	}
}

// envelope is the outer payload shape shared by both variants. Fields
// that only one variant uses stay zeroed for the other.
type envelope struct {
	Method string `json:"method"`

	// GET pixel: request data flattened at the top level
	Ts          string         `json:"ts"`
	URI         string         `json:"uri"`
	URL         string         `json:"url"`
	XForwardFor string         `json:"x_forward_for"`
	Referrer    string         `json:"referrer"`
	UserAgent   string         `json:"user_agent"`
	Cookie      string         `json:"cookie"`
	Args        map[string]any `json:"args"`

	// POST beacon: headers plus a nested JSON body
	Headers map[string]string `json:"headers"`
	Body    *beaconBody       `json:"body"`
}

type beaconBody struct {
	Path     string         `json:"path"`
	URL      string         `json:"url"`
	Args     map[string]any `json:"args"`
	Form     map[string]any `json:"form"`
	User     map[string]any `json:"user"`
	Referrer string         `json:"referrer"`
	T        string         `json:"t"`
	E        string         `json:"e"`
}

// Normalize parses one raw record payload into an Event. sequenceID
// becomes the event id (the storage primary key). A malformed outer
// payload is the only failure mode; inside a valid envelope every field
// degrades to its zero value.
func (n *Normalizer) Normalize(sequenceID string, payload []byte) (model.Event, error) {
	const op = "normalize.Normalize"

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return model.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	e := model.Event{
		ID:         sequenceID,
		ReceivedAt: n.now().UTC().Format("2006-01-02 15:04:05"),
		OrigData:   json.RawMessage(payload),
	}

	switch strings.ToLower(env.Method) {
	case "get":
		n.fromPixel(&e, &env)
	default:
		n.fromBeacon(&e, &env)
	}

	return e, nil
}

// fromPixel handles GET query beacons: all request data sits at the top
// level of the envelope.
func (n *Normalizer) fromPixel(e *model.Event, env *envelope) {
	e.Ts = env.Ts
	e.URL = env.URL
	e.Path = env.URI
	e.IP = firstForwarded(env.XForwardFor)
	e.Referrer = env.Referrer
	e.UserAgent = env.UserAgent
	e.Args = env.Args
	e.Cookies = ParseCookies(env.Cookie)

	// the pixel endpoint always records a page view, whatever the
	// declared type says
	if env.URI == n.pixelPath {
		e.EvtType = EvtTypePixel
		return
	}
	if v, ok := env.Args["_e"].(string); ok {
		e.EvtType = v
	}
}

// fromBeacon handles POST beacons: request data lives in headers plus a
// nested JSON body.
func (n *Normalizer) fromBeacon(e *model.Event, env *envelope) {
	e.IP = firstForwarded(header(env.Headers, "X-Forward-For"))
	e.UserAgent = header(env.Headers, "User-Agent")
	e.Cookies = ParseCookies(header(env.Headers, "Cookie"))

	if env.Body == nil {
		return
	}

	e.Ts = env.Body.T
	e.Path = env.Body.Path
	e.URL = env.Body.URL
	e.Args = env.Body.Args
	e.Form = env.Body.Form
	e.UserData = env.Body.User
	e.Referrer = env.Body.Referrer
	e.EvtType = env.Body.E
}

// firstForwarded picks the client address out of a comma-separated
// forwarded-for chain.
func firstForwarded(xff string) string {
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")

	return strings.TrimSpace(first)
}

// header looks a key up case-insensitively: collectors disagree on
// header casing ("Cookie" vs "cookie").
func header(h map[string]string, key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}

	return ""
}
