// Package webhook delivers signed tenant events to registered endpoints.
package webhook

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventUsageWarning          = "usage.warning"
	EventUsageLimitReached     = "usage.limit_reached"
	EventAPIKeyCreated         = "api_key.created"
	EventAPIKeyRevoked         = "api_key.revoked"
	EventConnectionAdded       = "mcp.connection_added"
	EventConnectionRemoved     = "mcp.connection_removed"
	EventRequestFailed         = "mcp.request_failed"

	// EventTest is sent only by a manual test and cannot be subscribed to.
	EventTest = "webhook.test"
)

var vocabulary = map[string]string{
	EventSubscriptionCreated:   "A tenant account was created",
	EventSubscriptionUpdated:   "The tenant's plan or status changed",
	EventSubscriptionCancelled: "The tenant's subscription ended",
	EventUsageWarning:          "Monthly usage crossed 80% of the plan limit",
	EventUsageLimitReached:     "Monthly usage reached the plan limit",
	EventAPIKeyCreated:         "An API key was issued",
	EventAPIKeyRevoked:         "An API key was revoked",
	EventConnectionAdded:       "A WordPress connection was added",
	EventConnectionRemoved:     "A WordPress connection was removed",
	EventRequestFailed:         "A proxied WordPress request failed",
}

func ValidEvent(t string) bool {
	_, ok := vocabulary[t]
	return ok
}

type EventInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Events lists the subscribable vocabulary in name order.
func Events() []EventInfo {
	out := make([]EventInfo, 0, len(vocabulary))
	for t, d := range vocabulary {
		out = append(out, EventInfo{Type: t, Description: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Event is the JSON body of every outbound delivery.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func newEvent(eventType string, data map[string]any, at time.Time) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{ID: "evt_" + uuid.NewString(), Type: eventType, Timestamp: at.UTC().Format(time.RFC3339), Data: data}
}
