package core

import "github.com/google/uuid"

// Conn is a live listener connection as seen by the core layer.
type Conn struct {
	ID          string
	Participant string
	Channel     int

	send chan []byte
}

// NewConn constructs a connection tagged with a participant id.
func NewConn(participant string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		ID:          uuid.NewString(),
		Participant: participant,
		send:        make(chan []byte, buffer),
	}
}

// Frames returns the outbound frames queued for this connection.
// The channel is closed once the connection is unregistered.
func (c *Conn) Frames() <-chan []byte {
	return c.send
}

// enqueue queues a frame without blocking. It returns false if the buffer is full.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
