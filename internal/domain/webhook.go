package domain

import "time"

// WebhookStatus is the admission state of one inbound notification.
type WebhookStatus string

const (
	WebhookPending  WebhookStatus = "pending"
	WebhookAccepted WebhookStatus = "accepted"
	WebhookRejected WebhookStatus = "rejected"
)

// RejectReason explains why a webhook was not admitted.
type RejectReason string

const (
	RejectNone         RejectReason = ""
	RejectMalformed    RejectReason = "malformed_payload"
	RejectWrongEvent   RejectReason = "wrong_event_type"
	RejectFailedResult RejectReason = "failed_outcome"
	RejectInFlight     RejectReason = "duplicate_in_flight"
)

// Webhook is one inbound completion notification from the authoring tool.
type Webhook struct {
	ID          int64         `db:"id" json:"id"`
	Payload     []byte        `db:"payload" json:"-"`
	Fingerprint string        `db:"fingerprint" json:"fingerprint"`
	Status      WebhookStatus `db:"status" json:"status"`
	Reason      RejectReason  `db:"reason" json:"reason,omitempty"`
	BundleID    *int64        `db:"bundle_id" json:"bundle_id,omitempty"`
	ReceivedAt  time.Time     `db:"received_at" json:"received_at"`
}
