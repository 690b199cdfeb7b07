package messaging

import (
	"encoding/json"
	"log"

	"github.com/whisper/pairing/internal/moderation"
)

// ModerationPublisherClient is the subset of NATSClient used to publish
// moderation traffic.
type ModerationPublisherClient interface {
	PublishModerationAction(data []byte) error
	PublishWatchedMessage(pairID string, data []byte) error
}

// ModerationPublisher encodes moderation events and publishes them on NATS.
// Publish failures are logged and never reach the caller; moderation output
// is best-effort.
type ModerationPublisher struct {
	client ModerationPublisherClient
}

// NewModerationPublisher creates a publisher over client.
func NewModerationPublisher(client ModerationPublisherClient) *ModerationPublisher {
	return &ModerationPublisher{client: client}
}

// Action publishes a moderation action.
func (p *ModerationPublisher) Action(ev moderation.ActionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[nats] marshal action: %v", err)
		return
	}
	if err := p.client.PublishModerationAction(data); err != nil {
		log.Printf("[nats] publish action %s for %s: %v", ev.Action, ev.Address, err)
	}
}

// Watched publishes one relayed message of a watched pair.
func (p *ModerationPublisher) Watched(msg moderation.WatchedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[nats] marshal watched message: %v", err)
		return
	}
	if err := p.client.PublishWatchedMessage(msg.PairID, data); err != nil {
		log.Printf("[nats] publish watch %s: %v", msg.PairID, err)
	}
}
