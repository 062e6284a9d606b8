package legis

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound reports an ordinary "no data" outcome, distinguishable from
// transient transport failures.
var ErrNotFound = errors.New("record not found")

// Source is the external legislative data provider contract. Manifest
// hashes are the sole change-detection authority; equality means no
// change.
type Source interface {
	// ListSessions returns every legislative session for a jurisdiction.
	ListSessions(ctx context.Context, jurisdiction string) ([]Session, error)
	// GetManifest returns the per-bill change hashes for a session.
	GetManifest(ctx context.Context, sessionID string) (map[string]string, error)
	// GetBill returns the full record for one bill identifier. Returns
	// ErrNotFound when the provider has no data for the identifier.
	GetBill(ctx context.Context, billID string) (*BillRecord, error)
}

type Session struct {
	ID        string `json:"identifier"`
	Name      string `json:"name"`
	YearEnd   int    `json:"year_end"`
	Concluded bool   `json:"concluded"`
}

// Active reports whether a session still needs syncing: its end year is
// the current year or later, or it is not yet concluded.
func (s Session) Active(now time.Time) bool {
	return s.YearEnd >= now.Year() || !s.Concluded
}

type BillRecord struct {
	SourceID    string
	Source      string
	SessionKey  string
	BillNumber  string
	Title       string
	Description string
	Status      string
	ChangeHash  string
	Sponsors    []Sponsor
	Texts       []TextDocument
	Amendments  []Amendment
	Raw         json.RawMessage
}

type Sponsor struct {
	Name     string `json:"name"`
	Role     string `json:"classification"`
	Party    string `json:"party"`
	District string `json:"district"`
	Primary  bool   `json:"primary"`
}

type TextDocument struct {
	Note     string `json:"note"`
	URL      string `json:"url"`
	MimeType string `json:"media_type"`
	Date     string `json:"date"`
	Content  []byte `json:"-"`
}

type Amendment struct {
	AmendmentID string `json:"amendment_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Adopted     bool   `json:"adopted"`
	Date        string `json:"date"`
	ChangeHash  string `json:"change_hash"`
}
