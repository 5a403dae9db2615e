// bundle.go defines the Bundle wire types used for searchsets, history,
// transactions, batches, and their responses.
package fhir

import "encoding/json"

// Bundle types the engine produces or consumes.
const (
	BundleTypeTransaction         = "transaction"
	BundleTypeBatch               = "batch"
	BundleTypeTransactionResponse = "transaction-response"
	BundleTypeBatchResponse       = "batch-response"
	BundleTypeSearchset           = "searchset"
	BundleTypeHistory             = "history"
	BundleTypeCollection          = "collection"
)

// Bundle is the container resource for multi-resource payloads.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *BundleMeta   `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleMeta carries lastUpdated on history and searchset bundles.
type BundleMeta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`
}

// BundleLink is a paging or self link.
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry is one entry in any bundle type. Resource stays raw: stored
// documents pass through byte-identical, and request processing decodes only
// the entries it needs.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

// Search modes for searchset entries.
const (
	SearchModeMatch   = "match"
	SearchModeInclude = "include"
	SearchModeOutcome = "outcome"
)

// BundleSearch annotates searchset entries.
type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// BundleRequest describes the operation for transaction/batch entries and is
// synthesised onto history entries.
type BundleRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	IfNoneMatch string `json:"ifNoneMatch,omitempty"`
	IfMatch     string `json:"ifMatch,omitempty"`
	IfNoneExist string `json:"ifNoneExist,omitempty"`
}

// BundleResponse reports per-entry outcomes in response bundles.
type BundleResponse struct {
	Status       string          `json:"status"`
	Location     string          `json:"location,omitempty"`
	Etag         string          `json:"etag,omitempty"`
	LastModified string          `json:"lastModified,omitempty"`
	Outcome      json.RawMessage `json:"outcome,omitempty"`
}

// NewBundle builds an empty bundle of the given type with a timestamp.
func NewBundle(bundleType, timestamp string) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		Type:         bundleType,
		Timestamp:    timestamp,
	}
}

// SetTotal sets the total element.
func (b *Bundle) SetTotal(n int) {
	b.Total = &n
}

// AddLink appends a link if url is non-empty.
func (b *Bundle) AddLink(relation, url string) {
	if url == "" {
		return
	}
	b.Link = append(b.Link, BundleLink{Relation: relation, URL: url})
}

// Encode serialises the bundle.
func (b *Bundle) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBundle parses a bundle payload, verifying the envelope.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, Errorf(KindMalformed, "invalid bundle: %v", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, Errorf(KindMalformed, "expected a Bundle, got %q", b.ResourceType)
	}
	return &b, nil
}

// ETag renders a weak ETag for a version.
func ETag(versionID string) string {
	return `W/"` + versionID + `"`
}

// ParseETag extracts the version from a weak or strong ETag header value.
// Returns "" when the header is absent or unparseable.
func ParseETag(header string) string {
	v := header
	if len(v) >= 2 && v[:2] == "W/" {
		v = v[2:]
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return ""
}
