package core

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Registry tracks the open connections of one room.
// It is owned by the coordinator run loop and is not safe for concurrent use.
type Registry struct {
	conns map[string]*Conn
	log   *zerolog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		conns: make(map[string]*Conn),
		log:   logger,
	}
}

// Register adds a connection. Returns false if it was already registered.
func (r *Registry) Register(c *Conn) bool {
	if _, exists := r.conns[c.ID]; exists {
		return false
	}
	r.conns[c.ID] = c
	return true
}

// Unregister removes a connection and closes its outbound queue.
// Returns false if the connection was not registered.
func (r *Registry) Unregister(c *Conn) bool {
	if _, exists := r.conns[c.ID]; !exists {
		return false
	}
	delete(r.conns, c.ID)
	close(c.send)
	return true
}

// All returns every registered connection. Order is not significant.
func (r *Registry) All() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// TagOf returns the participant id a registered connection was tagged with.
func (r *Registry) TagOf(c *Conn) (string, bool) {
	registered, ok := r.conns[c.ID]
	if !ok {
		return "", false
	}
	return registered.Participant, true
}

// HasParticipant reports whether any registered connection carries the id.
func (r *Registry) HasParticipant(participant string) bool {
	for _, c := range r.conns {
		if c.Participant == participant {
			return true
		}
	}
	return false
}

// Send marshals msg and queues it for a single connection.
func (r *Registry) Send(c *Conn, msg any) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if !c.enqueue(frame) {
		r.log.Debug().Str("conn_id", c.ID).Msg("outbound queue full, frame dropped")
	}
	return nil
}

// Broadcast marshals msg once and queues it for every connection except exclude.
// Full queues drop the frame; the connection is cleaned up by its own close path.
func (r *Registry) Broadcast(msg any, exclude *Conn) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	for id, c := range r.conns {
		if c == exclude {
			continue
		}
		if !c.enqueue(frame) {
			r.log.Debug().Str("conn_id", id).Str("participant", c.Participant).Msg("outbound queue full, broadcast dropped")
		}
	}
	return nil
}
