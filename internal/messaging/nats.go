// Package messaging carries moderation traffic over NATS: the pairing server
// publishes consequences and watched transcripts, and the moderator process
// subscribes to them.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Moderation subjects. Watched transcripts go to one subject per pair.
const (
	SubjectModerationAction = "moderation.action"
	SubjectModerationWatch  = "moderation.watch"
	SubjectModerationAll    = "moderation.>"
)

// WatchSubject returns the subject carrying a watched pair's transcript.
func WatchSubject(pairID string) string {
	return SubjectModerationWatch + "." + pairID
}

// PairIDFromSubject extracts the pair id from a watch subject.
func PairIDFromSubject(subject string) (string, bool) {
	id, ok := strings.CutPrefix(subject, SubjectModerationWatch+".")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	Name           string // client name shown by the server
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int           // -1 retries forever
	FlushTimeout   time.Duration // bound on flushing pending publishes at Close
}

// DefaultNATSConfig returns the settings used when only a URL is configured.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "whisper-pairing",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		FlushTimeout:   2 * time.Second,
	}
}

func (c NATSConfig) options() []nats.Option {
	return []nats.Option{
		nats.Name(c.Name),
		nats.Timeout(c.ConnectTimeout),
		nats.ReconnectWait(c.ReconnectWait),
		nats.MaxReconnects(c.MaxReconnects),
		nats.DisconnectErrHandler(logDisconnect),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}
}

func logDisconnect(_ *nats.Conn, err error) {
	if err == nil {
		log.Printf("[nats] disconnected")
		return
	}
	log.Printf("[nats] disconnected: %v", err)
}

// NATSClient is a NATS connection speaking the moderation subjects.
type NATSClient struct {
	conn         *nats.Conn
	flushTimeout time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSClient connects to NATS. It fails if the first connection attempt
// fails; later outages are retried in the background.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	nc, err := nats.Connect(config.URL, config.options()...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", config.URL, err)
	}
	log.Printf("[nats] connected to %s as %q", nc.ConnectedUrl(), config.Name)
	return &NATSClient{conn: nc, flushTimeout: config.FlushTimeout}, nil
}

// PublishModerationAction publishes an encoded moderation.ActionEvent.
func (c *NATSClient) PublishModerationAction(data []byte) error {
	return c.publish(SubjectModerationAction, data)
}

// PublishWatchedMessage publishes an encoded moderation.WatchedMessage to the
// pair's watch subject.
func (c *NATSClient) PublishWatchedMessage(pairID string, data []byte) error {
	return c.publish(WatchSubject(pairID), data)
}

func (c *NATSClient) publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeModeration delivers every moderation message to handler together
// with its concrete subject, so actions can be told apart from transcripts.
// Handlers run on the NATS delivery goroutine, one message at a time.
func (c *NATSClient) SubscribeModeration(handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(SubjectModerationAll, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectModerationAll, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close flushes pending publishes, drains subscriptions and closes the
// connection.
func (c *NATSClient) Close() {
	if err := c.conn.FlushTimeout(c.flushTimeout); err != nil {
		log.Printf("[nats] flush: %v", err)
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", sub.Subject, err)
		}
	}

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
}
