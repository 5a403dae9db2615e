// cursor.go encodes paging state as opaque continuation tokens.
//
// The default sort pages by keyset (last_updated, id), which stays correct
// when writes land between page fetches. Custom sorts and near fall back to
// offsets, since their sort keys are not stable row identifiers. Plain
// non-negative integers are also accepted so _offset=20 works directly.

package search

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/jpl-au/fhird/internal/fhir"
)

// cursor is decoded paging state. A non-empty ID marks a keyset cursor.
type cursor struct {
	LastUpdated int64  `json:"u,omitempty"`
	ID          string `json:"i,omitempty"`
	Offset      int    `json:"o,omitempty"`
}

func (c cursor) keyset() bool { return c.ID != "" }

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// parseCursor accepts either a bare offset or an encoded token. Tokens are
// JSON under base64url, which never looks like a bare integer.
func parseCursor(s string) (cursor, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return cursor{}, fhir.Errorf(fhir.KindMalformed, "negative offset")
		}
		return cursor{Offset: n}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, fhir.Errorf(fhir.KindMalformed, "invalid page token")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Offset < 0 {
		return cursor{}, fhir.Errorf(fhir.KindMalformed, "invalid page token")
	}
	return c, nil
}
