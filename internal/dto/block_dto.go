package dto

import (
	"bytes"
	"encoding/json"
)

// TagPair is one [key, value] entry of a block's query field.
type TagPair [2]string

func (p TagPair) Key() string   { return p[0] }
func (p TagPair) Value() string { return p[1] }

// TagPairs is the ordered query tag list attached to a block. Semantics of the
// keys are mode-dependent (follow uses following/follower, like/comment/delete
// use block, message uses from/to).
type TagPairs []TagPair

// Get returns the value of the first pair with the given key.
func (q TagPairs) Get(key string) (string, bool) {
	for _, p := range q {
		if p.Key() == key {
			return p.Value(), true
		}
	}
	return "", false
}

func (q TagPairs) Keys() []string {
	keys := make([]string, 0, len(q))
	for _, p := range q {
		keys = append(keys, p.Key())
	}
	return keys
}

// FromTo extracts the directed message endpoints from the tag list.
func (q TagPairs) FromTo() (from, to string, ok bool) {
	from, _ = q.Get("from")
	to, _ = q.Get("to")
	return from, to, from != "" && to != ""
}

// Block is the wire form of a signed block as submitted by clients. Content is
// kept as raw JSON because clients may send either a string or a structured
// value, and the exact bytes participate in signature verification.
type Block struct {
	ID        string          `json:"id"`
	Pubkey    string          `json:"pubkey"`
	CreatedAt int64           `json:"created_at"`
	Mode      string          `json:"mode"`
	Content   json.RawMessage `json:"content,omitempty"`
	Sig       string          `json:"sig"`
	App       string          `json:"app,omitempty"`
	Query     TagPairs        `json:"query,omitempty"`
}

// HasContent reports whether a usable content payload was supplied.
func (b *Block) HasContent() bool {
	return len(b.Content) > 0 && !bytes.Equal(b.Content, []byte("null"))
}
