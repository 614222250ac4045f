// -----------------------------------------------------------------------
// Messages - JSON wire frames exchanged with workers
// -----------------------------------------------------------------------

package transport

// Command is a server-to-worker frame.
type Command struct {
	Type   string      `json:"type"` // start_job, stop_job, start_clients, stop_clients, disconnect, registered, error
	Job    *JobPayload `json:"job,omitempty"`
	JobID  string      `json:"job_id,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Count  int         `json:"count,omitempty"`
	Force  bool        `json:"force,omitempty"`

	// registration ack / error detail
	ClientID string `json:"client_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// JobPayload carries everything a worker needs to execute a job.
type JobPayload struct {
	ID                        string            `json:"id"`
	JobClassName              string            `json:"job_class_name"`
	Threads                   int               `json:"threads"`
	ThreadStartupDelayMs      int               `json:"thread_startup_delay_ms"`
	DurationSeconds           int               `json:"duration_seconds"`
	CollectionIntervalSeconds int               `json:"collection_interval_seconds"`
	Parameters                map[string]string `json:"parameters,omitempty"`
}

// WorkerMessage is a worker-to-server frame.
type WorkerMessage struct {
	Type       string             `json:"type"` // hello, job_complete, stats, goodbye
	ClientID   string             `json:"client_id,omitempty"`
	MaxClients int                `json:"max_clients,omitempty"` // manager hello
	JobID      string             `json:"job_id,omitempty"`
	Success    bool               `json:"success,omitempty"`
	Message    string             `json:"message,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Partial    bool               `json:"partial,omitempty"`
}

const (
	commandStartJob     = "start_job"
	commandStopJob      = "stop_job"
	commandStartClients = "start_clients"
	commandStopClients  = "stop_clients"
	commandDisconnect   = "disconnect"
	commandRegistered   = "registered"
	commandError        = "error"

	messageHello       = "hello"
	messageJobComplete = "job_complete"
	messageStats       = "stats"
	messageGoodbye     = "goodbye"
)
