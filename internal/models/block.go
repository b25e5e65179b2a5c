package models

import (
	"gorm.io/datatypes"
)

// Block modes. Profile is a filter-time pseudo-mode: the coordinator never
// persists it, but the filter engine accepts it and reduces the result to the
// latest row per pubkey.
const (
	ModePost    = "post"
	ModeMessage = "message"
	ModeFollow  = "follow"
	ModeLike    = "like"
	ModeComment = "comment"
	ModeDelete  = "delete"
	ModeProfile = "profile"
)

// WriteModes are the modes a client may publish.
var WriteModes = []string{ModePost, ModeMessage, ModeFollow, ModeLike, ModeComment, ModeDelete}

// FilterModes are the modes accepted in a filter.
var FilterModes = append([]string{ModeProfile}, WriteModes...)

// IsWriteMode reports whether mode has a persistence rule.
func IsWriteMode(mode string) bool {
	for _, m := range WriteModes {
		if m == mode {
			return true
		}
	}
	return false
}

// IsFilterMode reports whether mode is queryable.
func IsFilterMode(mode string) bool {
	for _, m := range FilterModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Block is the single persisted entity of the relay: a signed, mode-tagged
// data unit. From/To are derived columns populated only for message rows so
// each mailbox can be looked up directly. Deleted is a tombstone kept for
// file-store compatibility; reads always exclude it and delete-mode requests
// remove the row outright.
type Block struct {
	ID        string         `gorm:"primaryKey;size:255" json:"id"`
	Pubkey    string         `gorm:"size:130;not null;index" json:"pubkey"`
	CreatedAt int64          `gorm:"not null;index" json:"created_at"`
	Mode      string         `gorm:"size:20;not null;index" json:"mode"`
	Content   datatypes.JSON `gorm:"type:jsonb" json:"content"`
	Sig       string         `gorm:"type:text;not null" json:"sig"`
	App       string         `gorm:"size:255;index" json:"app"`
	Query     datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"query"`
	Deleted   bool           `gorm:"not null;default:false" json:"-"`
	From      string         `gorm:"column:from;size:130;index" json:"from,omitempty"`
	To        string         `gorm:"column:to;size:130;index" json:"to,omitempty"`
}

func (Block) TableName() string {
	return "blocks"
}

// RecipientMirrorSuffix distinguishes the recipient-owned copy of a message
// row from the sender-owned original.
const RecipientMirrorSuffix = "_rcp"
