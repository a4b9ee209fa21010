// internal/types/ids.go
package types

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type RunID string
type LaneKey string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewLaneKey(parts ...string) LaneKey {
	return LaneKey(strings.Join(parts, ":"))
}

// TicketLane is the queue lane shared by every run of one ticket.
func TicketLane(ticketID int) LaneKey {
	return NewLaneKey("ticket", strconv.Itoa(ticketID))
}
