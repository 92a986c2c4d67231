package models

import "time"

// MaxImageURLLen bounds ReadingRecord.ImageURL, counted in bytes.
const MaxImageURLLen = 100

// ReadingRecord is one sensor upload. Everything except UsedCount is fixed
// once written.
type ReadingRecord struct {
	ID          string    `json:"id"`
	Machine     string    `json:"machine"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	ImageURL    *string   `json:"image_url,omitempty"`
	UsedCount   uint64    `json:"used_count"`
}

// HasImage reports whether the reading carried an image reference.
func (r *ReadingRecord) HasImage() bool {
	return r.ImageURL != nil
}

// Clone returns a copy that shares no pointers with r.
func (r *ReadingRecord) Clone() *ReadingRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.ImageURL != nil {
		u := *r.ImageURL
		out.ImageURL = &u
	}
	return &out
}
