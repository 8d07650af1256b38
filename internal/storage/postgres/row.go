package postgres

import (
	"database/sql"

	json "github.com/goccy/go-json"

	"github.com/bcambel/kinesis2/internal/model"
)

// Row is an Event re-encoded for the events table. It only exists for
// the duration of a flush: timestamps are bound as the literal strings
// the client reported (no re-formatting, no timezone conversion) and
// the map fields become jsonb values.
type Row struct {
	ID         string
	ReceivedAt string
	Ts         sql.NullString
	Path       string
	URL        string
	IP         string
	Referrer   string
	UserAgent  string
	EvtType    string
	Args       []byte
	Form       []byte
	UserData   []byte
	Cookies    []byte
	OrigData   []byte
}

// AdaptRow maps a canonical Event onto its storage encoding. Scalars
// pass through; absent maps and an absent ts become SQL NULLs.
func AdaptRow(e model.Event) Row {
	return Row{
		ID:         e.ID,
		ReceivedAt: e.ReceivedAt,
		Ts:         nullString(e.Ts),
		Path:       e.Path,
		URL:        e.URL,
		IP:         e.IP,
		Referrer:   e.Referrer,
		UserAgent:  e.UserAgent,
		EvtType:    e.EvtType,
		Args:       jsonOrNil(e.Args),
		Form:       jsonOrNil(e.Form),
		UserData:   jsonOrNil(e.UserData),
		Cookies:    jsonOrNil(e.Cookies),
		OrigData:   []byte(e.OrigData),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// jsonOrNil serializes a map for a jsonb column; nil and empty maps are
// stored as NULL rather than "{}" so absence stays observable.
func jsonOrNil[M ~map[string]V, V any](m M) []byte {
	if len(m) == 0 {
		return nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}

	return b
}
