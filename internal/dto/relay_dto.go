package dto

import (
	"encoding/json"

	"github.com/onpostt/relay/internal/models"
)

// Request names accepted over the websocket channel and mapped onto the HTTP
// one-shot routes.
const (
	RequestGetBlocks    = "get_blocks"
	RequestGetBlocksSub = "get_blocks_sub"
)

// Filter is the declarative block filter of a query or subscription. Query is
// raw because its shape depends on mode: flat [key, value] pairs for
// containment matching, or groups of from/to pairs for message lookups.
type Filter struct {
	Pubkey string          `json:"pubkey,omitempty"`
	Mode   string          `json:"mode"`
	Since  int64           `json:"since,omitempty"`
	Until  int64           `json:"until,omitempty"`
	App    string          `json:"app,omitempty"`
	ID     string          `json:"id,omitempty"`
	Query  json.RawMessage `json:"query,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// TagQuery decodes the filter query as flat tag pairs.
func (f *Filter) TagQuery() (TagPairs, error) {
	if len(f.Query) == 0 {
		return nil, nil
	}
	var pairs TagPairs
	if err := json.Unmarshal(f.Query, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// PairGroups decodes the filter query as groups of tag pairs, the shape used
// by message-mode conversation lookups.
func (f *Filter) PairGroups() []TagPairs {
	if len(f.Query) == 0 {
		return nil
	}
	var groups []TagPairs
	if err := json.Unmarshal(f.Query, &groups); err != nil {
		return nil
	}
	return groups
}

// Envelope is an inbound websocket frame. A frame either carries a request
// with a filter, or is a raw block publish (detected by the absent request
// field and inspected separately).
type Envelope struct {
	Request   string   `json:"request,omitempty"`
	Filter    *Filter  `json:"filter,omitempty"`
	Query     TagPairs `json:"query,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

// Status is the structured result of a publish or delete attempt. Failures
// use the literal status "erro", which clients match on.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	StatusSuccess = "success"
	StatusError   = "erro"
)

func Success(message string) Status {
	return Status{Status: StatusSuccess, Message: message}
}

func Error(message string) Status {
	return Status{Status: StatusError, Message: message}
}

// BlocksResponse answers queries, subscription snapshots and pushed
// broadcasts, all in the same shape.
type BlocksResponse struct {
	Response  string         `json:"response"`
	Blocks    []models.Block `json:"blocks"`
	RequestID string         `json:"requestId"`
}

func Blocks(blocks []models.Block, requestID string) BlocksResponse {
	if blocks == nil {
		blocks = []models.Block{}
	}
	return BlocksResponse{Response: "blocks", Blocks: blocks, RequestID: requestID}
}

// HealthResponse reports liveness of the relay and its store.
type HealthResponse struct {
	Status bool   `json:"status"`
	DB     string `json:"db,omitempty"`
}
