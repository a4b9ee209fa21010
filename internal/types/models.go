// internal/types/models.go
package types

import (
	"time"
)

// Session is an authenticated GLPI session. Only the session manager
// creates or replaces one.
type Session struct {
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	Validated bool      `json:"validated"`
}

type Followup struct {
	ID      int       `json:"id"`
	Author  string    `json:"author"`
	At      time.Time `json:"at"`
	Content string    `json:"content"`
}

// Ticket is a read-only snapshot of a GLPI ticket taken for one run.
type Ticket struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	Followups   []Followup `json:"followups,omitempty"`
	Body        string     `json:"body"`
}

// Chunk is a window of a ticket body. Start and End are rune offsets.
type Chunk struct {
	Text     string `json:"text"`
	TicketID int    `json:"ticket_id"`
	Seq      int    `json:"seq"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

type Section struct {
	Heading string   `json:"heading"`
	Bullets []string `json:"bullets"`
}

// Summary is the sectioned form of a raw model answer. Malformed is set
// when no headings were recognised and the fallback section was used.
type Summary struct {
	Raw       string    `json:"raw"`
	Sections  []Section `json:"sections"`
	Malformed bool      `json:"malformed,omitempty"`
}

type UploadStatus string

const (
	UploadPending UploadStatus = "pending"
	UploadStored  UploadStatus = "stored"
	UploadFailed  UploadStatus = "failed"
)

type ReportArtifact struct {
	TicketID     int          `json:"ticket_id"`
	LocalPath    string       `json:"local_path,omitempty"`
	StorageKey   string       `json:"storage_key,omitempty"`
	UploadStatus UploadStatus `json:"upload_status"`
	GeneratedAt  time.Time    `json:"generated_at"`
	Size         int64        `json:"size"`
}

// RunState is a pipeline stage. FAILED is terminal and carries the stage
// whose transition failed.
type RunState string

const (
	StateStarted      RunState = "STARTED"
	StateSessionReady RunState = "SESSION_READY"
	StateFetched      RunState = "FETCHED"
	StateSummarized   RunState = "SUMMARIZED"
	StateStored       RunState = "STORED"
	StateFailed       RunState = "FAILED"
)

// Terminal reports whether no further transitions follow s.
func (s RunState) Terminal() bool {
	return s == StateStored || s == StateFailed
}

// RunRecord is the authoritative outcome of one pipeline run.
type RunRecord struct {
	ID          RunID     `json:"id"`
	TicketID    int       `json:"ticket_id"`
	Source      string    `json:"source"`
	State       RunState  `json:"state"`
	FailedStage RunState  `json:"failed_stage,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
	StorageKey  string    `json:"storage_key,omitempty"`
	Renewals    int       `json:"renewals,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transition is one line of the run ledger.
type Transition struct {
	RunID    RunID     `json:"run_id"`
	Seq      int64     `json:"seq"`
	TicketID int       `json:"ticket_id"`
	Source   string    `json:"source,omitempty"`
	State    RunState  `json:"state"`
	Stage    RunState  `json:"stage,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Error    string    `json:"error,omitempty"`
	Key      string    `json:"key,omitempty"`
	Renewals int       `json:"renewals,omitempty"`
	At       time.Time `json:"at"`
}

// Notification is an inbound request to process one ticket.
type Notification struct {
	Source   string `json:"source"`
	TicketID int    `json:"ticket_id"`
	Event    string `json:"event,omitempty"`
}
