// Package pipeline ingests dispatch requests published by business-event
// emitters and hands them to the dispatch coordinator.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// DispatchRequest is the Pub/Sub wire format.
type DispatchRequest struct {
	Target       dispatch.Target     `json:"target"`
	Notification NotificationPayload `json:"notification"`
}

// NotificationPayload mirrors dispatch.Message with a wire-friendly TTL.
type NotificationPayload struct {
	Title             string            `json:"title"`
	Body              string            `json:"body,omitempty"`
	Category          string            `json:"category,omitempty"`
	RelatedEntityID   string            `json:"related_entity_id,omitempty"`
	RelatedEntityType string            `json:"related_entity_type,omitempty"`
	Data              map[string]string `json:"data,omitempty"`
	Image             string            `json:"image,omitempty"`
	Badge             *int              `json:"badge,omitempty"`
	Sound             string            `json:"sound,omitempty"`
	Priority          string            `json:"priority,omitempty"`
	TTLSeconds        int               `json:"ttl_seconds,omitempty"`
}

func (p NotificationPayload) Message() dispatch.Message {
	return dispatch.Message{
		Title:             p.Title,
		Body:              p.Body,
		Category:          dispatch.Category(p.Category),
		RelatedEntityID:   p.RelatedEntityID,
		RelatedEntityType: p.RelatedEntityType,
		Data:              p.Data,
		Image:             p.Image,
		Badge:             p.Badge,
		Sound:             p.Sound,
		Priority:          dispatch.Priority(p.Priority),
		TTL:               time.Duration(p.TTLSeconds) * time.Second,
	}
}

// DispatchRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw payload. Malformed requests are skipped so the
// StreamingService can hand them to the subscription's dead-letter policy.
func DispatchRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*DispatchRequest, bool, error) {
	var req DispatchRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal dispatch request from message %s: %w", msg.ID, err)
	}
	if err := req.Target.Validate(); err != nil {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	m := req.Notification.Message()
	if err := m.Validate(); err != nil {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
