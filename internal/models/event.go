// -----------------------------------------------------------------------
// Client events - Inbox messages consumed by the scheduler loop
// -----------------------------------------------------------------------

package models

import "time"

// ClientEventType enumerates the asynchronous signals a client connection can
// deliver into the scheduler inbox.
type ClientEventType string

const (
	ClientEventRegistered   ClientEventType = "registered"
	ClientEventCompleted    ClientEventType = "completed"
	ClientEventDisconnected ClientEventType = "disconnected"
	ClientEventStatsChunk   ClientEventType = "stats_chunk"
)

// ClientEvent is one inbox message. JobID is set for completed and
// stats_chunk events; Stats accompanies stats_chunk and, optionally, a
// completed event that carries a final report.
type ClientEvent struct {
	Type     ClientEventType `json:"type"`
	ClientID string          `json:"client_id"`
	Kind     ClientKind      `json:"kind,omitempty"`
	JobID    string          `json:"job_id,omitempty"`
	Success  bool            `json:"success,omitempty"`
	Message  string          `json:"message,omitempty"`
	Stats    *ClientStats    `json:"stats,omitempty"`
	At       time.Time       `json:"at"`
}
