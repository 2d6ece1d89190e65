package kb

import (
	"time"

	"github.com/google/uuid"
)

// Owner identifies the speaker of a reply.
type Owner string

// Valid reply owners. These are the only two literals accepted by the
// import contract; anything else is a validation failure.
const (
	OwnerCustomer Owner = "customer"
	OwnerAgent    Owner = "agent"
)

// Ticket is a historical support case. Tickets are created in bulk during
// import and never mutated afterwards; the only delete path is ClearAll.
type Ticket struct {
	ID          uuid.UUID
	OriginalID  int64 // numeric id from the source system, used for recency ordering
	Title       string
	Description string // may contain HTML markup
	Category    string
	Replies     []Reply // ordered by Sequence ascending when loaded
	CreatedAt   time.Time
}

// Reply is one turn of a ticket's conversation. Sequence reflects the
// original conversation order and is unique within a ticket.
type Reply struct {
	ID        uuid.UUID
	TicketID  uuid.UUID
	Owner     Owner
	Content   string // may contain HTML markup
	Sequence  int32
	CreatedAt time.Time
}

// TicketImport is one record of the JSON import contract. Unknown extra
// fields in the payload are ignored by encoding/json.
type TicketImport struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Replies     []ReplyImport `json:"replies"`
}

// ReplyImport is one conversation turn of the import contract. Array order
// defines the persisted sequence order.
type ReplyImport struct {
	Content string `json:"content"`
	Owner   string `json:"owner"`
}

// ImportFailure records one skipped import record.
type ImportFailure struct {
	OriginalID int64  `json:"originalId"`
	Reason     string `json:"reason"`
}

// Report accumulates the outcome of a bulk import. Per-record failures are
// data, not control flow: a malformed ticket is counted and skipped without
// aborting the batch.
type Report struct {
	Imported int             `json:"imported"`
	Failed   int             `json:"failed"`
	Failures []ImportFailure `json:"failures,omitempty"`
}
