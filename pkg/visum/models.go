// Package visum provides the official Go client for the Visum
// visual-recognition API. It covers the records collection: creating records
// in bounded batches, concept mutations, deletion, and search.
package visum

import (
	"encoding/json"
	"fmt"
	"time"
)

// Service status codes returned in response envelopes.
const (
	StatusOK             = 10000
	StatusMixedSuccess   = 10010
	StatusFailure        = 10020
	StatusInvalidRequest = 40001
	StatusNotFound       = 40004
	StatusUnauthorized   = 40101
)

// Per-record processing status codes.
const (
	StatusRecordProcessed  = 30000
	StatusRecordPending    = 30001
	StatusRecordProcessing = 30002
	StatusRecordFailed     = 30004
)

// Status describes an outcome reported by the service, either for a whole
// response envelope or for a single record's processing state.
type Status struct {
	Code        int    `json:"code"`
	Description string `json:"description,omitempty"`
}

// Record is a single media record in the collection.
// Its JSON form matches the wire format of the records API.
type Record struct {
	ID        string     `json:"id,omitempty"` // assigned by the service when empty on create
	Data      RecordData `json:"data,omitzero"` // omitted entirely in delete payloads
	Score     float64    `json:"score,omitempty"` // search relevance; populated on search results only
	Status    *Status    `json:"status,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitzero"`
}

// RecordData carries the record payload: the media reference, its concept
// annotations, and free-form metadata.
type RecordData struct {
	Image    *Image         `json:"image,omitempty"`
	Concepts []Concept      `json:"concepts,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Image is a media reference. Exactly one of URL or Base64 must be set when
// creating a record.
type Image struct {
	URL    string `json:"url,omitempty"`
	Base64 []byte `json:"base64,omitempty"`
	Crop   *Crop  `json:"crop,omitempty"`
}

// Crop is a rectangular region of an image, each bound expressed as a
// percentage of the full dimension in [0, 100]. The region must have
// positive area: Bottom must exceed Top and Right must exceed Left.
// It marshals as the four-element array [top, left, bottom, right] used
// on the wire.
type Crop struct {
	Top    float64
	Left   float64
	Bottom float64
	Right  float64
}

// MarshalJSON encodes the crop as the wire-format bounds array.
func (c Crop) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{c.Top, c.Left, c.Bottom, c.Right})
}

// UnmarshalJSON decodes the wire-format bounds array.
func (c *Crop) UnmarshalJSON(data []byte) error {
	var bounds [4]float64
	if err := json.Unmarshal(data, &bounds); err != nil {
		return fmt.Errorf("crop must be a [top, left, bottom, right] array: %w", err)
	}
	c.Top, c.Left, c.Bottom, c.Right = bounds[0], bounds[1], bounds[2], bounds[3]
	return nil
}

// Concept is a label attached to a record. ID identifies the concept in
// mutations; Name is used when searching. A nil Value means true: the concept
// is asserted to apply.
type Concept struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value *bool  `json:"value,omitempty"`
}

// CollectionStatus reports how many records are in each processing state.
type CollectionStatus struct {
	Processed int `json:"processed"`
	ToProcess int `json:"to_process"`
	Errors    int `json:"errors"`
}

// NewURLRecord builds a record referencing media by URL.
func NewURLRecord(url string, concepts ...Concept) *Record {
	return &Record{Data: RecordData{Image: &Image{URL: url}, Concepts: concepts}}
}

// NewBase64Record builds a record carrying the media bytes inline.
func NewBase64Record(data []byte, concepts ...Concept) *Record {
	return &Record{Data: RecordData{Image: &Image{Base64: data}, Concepts: concepts}}
}

// BoolPtr returns a pointer to the given bool, for optional fields like
// Concept.Value.
func BoolPtr(v bool) *bool {
	return &v
}

// validate checks that every bound is a percentage and the region is not
// inverted or empty.
func (c *Crop) validate() error {
	for _, v := range []float64{c.Top, c.Left, c.Bottom, c.Right} {
		if v < 0 || v > 100 {
			return NewValidationError("data.image.crop", "crop bounds must be percentages in [0, 100]")
		}
	}
	if c.Bottom <= c.Top || c.Right <= c.Left {
		return NewValidationError("data.image.crop", "crop region must have positive area")
	}
	return nil
}

// validateForCreate enforces the client-side invariants of a create payload:
// exactly one media reference and, if present, a well-formed crop.
func (r *Record) validateForCreate() error {
	img := r.Data.Image
	if img == nil || (img.URL == "" && len(img.Base64) == 0) {
		return NewValidationError("data.image", "a media reference (url or base64) is required")
	}
	if img.URL != "" && len(img.Base64) > 0 {
		return NewValidationError("data.image", "url and base64 are mutually exclusive")
	}
	if img.Crop != nil {
		return img.Crop.validate()
	}
	return nil
}

// wireMode selects which fields of a record an operation sends.
type wireMode int

const (
	wireCreate   wireMode = iota // media, concepts, metadata
	wireConcepts                 // id and concepts only
	wireDelete                   // id only
)

// formatRecord renders a record into the payload shape for the given mode.
// It never mutates its input and is deterministic: the same record and mode
// always produce a structurally identical payload.
func formatRecord(r *Record, mode wireMode) *Record {
	switch mode {
	case wireConcepts:
		return &Record{ID: r.ID, Data: RecordData{Concepts: normalizeConcepts(r.Data.Concepts)}}
	case wireDelete:
		return &Record{ID: r.ID}
	default:
		out := &Record{ID: r.ID, Data: RecordData{
			Concepts: normalizeConcepts(r.Data.Concepts),
			Metadata: r.Data.Metadata,
		}}
		if img := r.Data.Image; img != nil {
			copied := *img
			out.Data.Image = &copied
		}
		return out
	}
}

// formatRecords applies formatRecord across a slice.
func formatRecords(records []*Record, mode wireMode) []*Record {
	out := make([]*Record, len(records))
	for i, r := range records {
		out[i] = formatRecord(r, mode)
	}
	return out
}

// normalizeConcepts copies the slice, making the implicit positive assertion
// explicit so payloads carry no nil values.
func normalizeConcepts(concepts []Concept) []Concept {
	if len(concepts) == 0 {
		return nil
	}
	out := make([]Concept, len(concepts))
	for i, c := range concepts {
		if c.Value == nil {
			c.Value = BoolPtr(true)
		}
		out[i] = c
	}
	return out
}

// recordsEnvelope is the response wrapper for operations returning a list of
// records, and the request wrapper for batch creation.
type recordsEnvelope struct {
	Status  *Status   `json:"status,omitempty"`
	Records []*Record `json:"records"`
}

// recordEnvelope wraps single-record responses.
type recordEnvelope struct {
	Status *Status `json:"status,omitempty"`
	Record *Record `json:"record"`
}

// statusEnvelope wraps the collection status response.
type statusEnvelope struct {
	Status *Status          `json:"status,omitempty"`
	Counts CollectionStatus `json:"counts"`
}
