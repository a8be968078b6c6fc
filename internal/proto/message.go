package proto

// Assignment is sent once to a newly connected listener.
type Assignment struct {
	AssignedChannel  int `json:"assignedChannel"`
	ParticipantCount int `json:"participantCount"`
}

// CountUpdate is broadcast to listeners whenever the room membership changes.
type CountUpdate struct {
	ParticipantCount int `json:"participantCount"`
}

// Error is the body of a rejected HTTP request.
type Error struct {
	Error string `json:"error"`
}

// ResetAck acknowledges an admin reset.
type ResetAck struct {
	Done bool `json:"done"`
}

// TableResponse carries a reconciled channel table snapshot.
// Keys are channel numbers, values the participant ids assigned to them.
type TableResponse struct {
	PulseList map[int][]string `json:"pulseList"`
}
