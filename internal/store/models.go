package store

import "time"

// AnchorStatus tracks how far anchoring got for an annotation. Anchoring
// itself happens in the document frame; only the outcome is kept here.
type AnchorStatus string

const (
	AnchorPending  AnchorStatus = "pending"
	AnchorAnchored AnchorStatus = "anchored"
	AnchorOrphan   AnchorStatus = "orphan"
	AnchorTimeout  AnchorStatus = "timeout"
)

func NormalizeAnchorStatus(value string) (AnchorStatus, bool) {
	switch AnchorStatus(value) {
	case AnchorPending, AnchorAnchored, AnchorOrphan, AnchorTimeout:
		return AnchorStatus(value), true
	default:
		return "", false
	}
}

// Annotation is a note or highlight, optionally replying to another.
// References lists ancestor ids with the nearest ancestor last.
type Annotation struct {
	ID              string       `json:"id,omitempty"`
	LocalTag        string       `json:"localTag,omitempty"`
	References      []string     `json:"references,omitempty"`
	Created         time.Time    `json:"created"`
	Updated         time.Time    `json:"updated"`
	Group           string       `json:"group"`
	User            string       `json:"user"`
	UserDisplayName string       `json:"userDisplayName,omitempty"`
	Text            string       `json:"text"`
	Tags            []string     `json:"tags,omitempty"`
	URI             string       `json:"uri"`
	Quote           string       `json:"quote,omitempty"`
	Position        *int         `json:"position,omitempty"`
	Hidden          bool         `json:"hidden"`
	FlagCount       int          `json:"flagCount"`
	AnchorStatus    AnchorStatus `json:"anchorStatus,omitempty"`
}

// Key identifies the annotation: its persisted id, or the local tag before
// it has been saved.
func (a Annotation) Key() string {
	if a.ID != "" {
		return a.ID
	}
	return a.LocalTag
}

// IsReply reports whether the annotation references a parent.
func (a Annotation) IsReply() bool {
	return len(a.References) > 0
}
