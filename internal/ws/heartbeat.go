package ws

import (
	"log"
	"time"
)

// heartbeat pings every connection each HeartbeatInterval and removes those
// silent for longer than HeartbeatInterval + HeartbeatTimeout. Any inbound
// frame counts as activity, including the browser's automatic pong.
func (s *Server) heartbeat() {
	interval := s.config.HeartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.sweepIdle(now, interval+s.config.HeartbeatTimeout)
		}
	}
}

// sweepIdle evicts connections idle past deadline and pings the rest.
func (s *Server) sweepIdle(now time.Time, deadline time.Duration) {
	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			log.Printf("ws: heartbeat timeout conn=%s idle=%s", c.ID, idle.Round(time.Second))
			s.removeConnection(c, "heartbeat")
			continue
		}
		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed conn=%s: %v", c.ID, err)
			s.removeConnection(c, "heartbeat")
		}
	}
}
