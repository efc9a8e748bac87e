package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

const envelopeVersion = 1

// eventNamespace seeds deterministic envelope ids for events that have an Origin.
var eventNamespace = uuid.MustParse("6f1d3c2a-9b8e-5d47-a1c0-2e4f6b8d0a13")

// Origin identifies the ledger entry that produced the event.
type Origin struct {
	Source  enums.LedgerSource `json:"source"`
	EventID string             `json:"eventId"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events
// and published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Origin     *Origin         `json:"origin,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// envelopeID is stable for a given origin, event type and aggregate so that
// re-applying the same ledger entry yields an id consumers can dedupe on.
func envelopeID(event DomainEvent) string {
	if event.Origin == nil || event.Origin.EventID == "" {
		return uuid.NewString()
	}
	name := string(event.Origin.Source) + "/" + event.Origin.EventID + "/" +
		string(event.EventType) + "/" + event.AggregateID.String()
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}
