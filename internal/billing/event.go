package billing

import (
	"encoding/json"
	"fmt"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoiceFailed       = "invoice.payment_failed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is the envelope the payment provider delivers. Data.Object carries
// the event-type specific payload; only the fields we act on are decoded.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// eventObject holds the subset of provider object fields the processor
// reads. Identifiers linking back to our records ride in metadata.
type eventObject struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("webhook event missing id or type")
	}
	return &event, nil
}

func (e *Event) object() (*eventObject, error) {
	var obj eventObject
	if len(e.Data.Object) > 0 {
		if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("decode event %s object: %w", e.ID, err)
		}
	}
	return &obj, nil
}
