package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aetherhome/aether/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("aether-guests"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

// LogPublisher stands in for NATS when it is disabled; events only reach the log.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	logger.InfoContext(ctx, "Event", "subject", subject, "data", data)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Event subjects
const (
	GuestDraftCreated   = "guest.draft.created"
	GuestVerified       = "guest.verified"
	GuestDraftDiscarded = "guest.draft.discarded"
	RoomAdded           = "room.added"
)

// Event payloads
type GuestDraftCreatedEvent struct {
	GuestID       int64     `json:"guest_id"`
	OwnerID       int64     `json:"owner_id"`
	HouseID       string    `json:"house_id"`
	AllowedRooms  []int64   `json:"allowed_rooms"`
	DepartureDate string    `json:"departure_date"`
	CreatedAt     time.Time `json:"created_at"`
}

type GuestVerifiedEvent struct {
	GuestID    int64     `json:"guest_id"`
	OwnerID    int64     `json:"owner_id"`
	VerifiedAt time.Time `json:"verified_at"`
}

type GuestDraftDiscardedEvent struct {
	GuestID     int64     `json:"guest_id"`
	OwnerID     int64     `json:"owner_id"`
	Reason      string    `json:"reason"`
	DiscardedAt time.Time `json:"discarded_at"`
}

type RoomAddedEvent struct {
	RoomID  int64  `json:"room_id"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
}
