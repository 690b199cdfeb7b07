package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/pairing/internal/config"
	"github.com/whisper/pairing/internal/messaging"
	"github.com/whisper/pairing/internal/moderation"
)

type moderatorConfig struct {
	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
}

func main() {
	log.Println("Starting Whisper moderation feed...")

	var cfg moderatorConfig
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "whisper-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	if err := natsClient.SubscribeModeration(handleModeration); err != nil {
		log.Fatalf("failed to subscribe to moderation feed: %v", err)
	}

	log.Printf("Whisper moderation feed running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}

// handleModeration prints one event from the moderation feed.
func handleModeration(subject string, data []byte) {
	if subject == messaging.SubjectModerationAction {
		var ev moderation.ActionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[moderator] failed to unmarshal action: %v", err)
			return
		}
		until := ""
		if ev.Until > 0 {
			until = " until=" + time.UnixMilli(ev.Until).UTC().Format(time.RFC3339)
		}
		log.Printf("[moderator] %s %s conn=%s address=%s reason=%q score=%d%s",
			ev.Source, ev.Action, ev.ConnID, ev.Address, ev.Reason, ev.Score, until)
		return
	}

	pairID, ok := messaging.PairIDFromSubject(subject)
	if !ok {
		log.Printf("[moderator] ignoring subject %s", subject)
		return
	}
	var msg moderation.WatchedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[moderator] failed to unmarshal watched message: %v", err)
		return
	}
	log.Printf("[watch %s] %s %s: %s",
		pairID, time.UnixMilli(msg.Ts).UTC().Format(time.TimeOnly), msg.Alias, msg.Text)
}
