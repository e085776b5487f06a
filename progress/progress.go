// Package progress is the process-wide progress registry (component
// C11): a cache of the latest event per upload plus push subscribers
// for SSE delivery, with a pull-based snapshot fallback. Grounded on
// Boulder's in-memory mutex-guarded registries (ca/certificate-authority.go's
// ocspLogQueue pattern of "mutex + map + best-effort fan-out").
package progress

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stage is one point in the progress vocabulary (spec section 4.10).
type Stage string

const (
	StageUploadCompleted    Stage = "UPLOAD_COMPLETED"
	StageParsingStarted     Stage = "PARSING_STARTED"
	StageParsingInProgress  Stage = "PARSING_IN_PROGRESS"
	StageParsingCompleted   Stage = "PARSING_COMPLETED"
	StageValidationStarted  Stage = "VALIDATION_STARTED"
	StageValidationProgress Stage = "VALIDATION_IN_PROGRESS"
	StageValidationComplete Stage = "VALIDATION_COMPLETED"
	StageDBSavingStarted    Stage = "DB_SAVING_STARTED"
	StageDBSavingProgress   Stage = "DB_SAVING_IN_PROGRESS"
	StageDBSavingComplete   Stage = "DB_SAVING_COMPLETED"
	StageLDAPSavingStarted  Stage = "LDAP_SAVING_STARTED"
	StageLDAPSavingProgress Stage = "LDAP_SAVING_IN_PROGRESS"
	StageLDAPSavingComplete Stage = "LDAP_SAVING_COMPLETED"
	StageCompleted          Stage = "COMPLETED"
	StageFailed             Stage = "FAILED"
)

// basePercent gives each stage a nominal floor; the caller interpolates
// within a stage using its own entry counters for the 0-100% bar.
var basePercent = map[Stage]int{
	StageUploadCompleted:    5,
	StageParsingStarted:     10,
	StageParsingInProgress:  15,
	StageParsingCompleted:   30,
	StageValidationStarted:  30,
	StageValidationProgress: 40,
	StageValidationComplete: 60,
	StageDBSavingStarted:    60,
	StageDBSavingProgress:   70,
	StageDBSavingComplete:   80,
	StageLDAPSavingStarted:  80,
	StageLDAPSavingProgress: 90,
	StageLDAPSavingComplete: 98,
	StageCompleted:          100,
	StageFailed:             100,
}

// BasePercent returns the nominal floor percentage for a stage, 0 if
// the stage is unrecognized.
func BasePercent(s Stage) int {
	return basePercent[s]
}

// stageNames gives each Stage a human-readable label for the
// stageName field of the SSE contract (spec section 6).
var stageNames = map[Stage]string{
	StageUploadCompleted:    "Upload completed",
	StageParsingStarted:     "Parsing started",
	StageParsingInProgress:  "Parsing in progress",
	StageParsingCompleted:   "Parsing completed",
	StageValidationStarted:  "Validation started",
	StageValidationProgress: "Validation in progress",
	StageValidationComplete: "Validation completed",
	StageDBSavingStarted:    "Saving to database started",
	StageDBSavingProgress:   "Saving to database in progress",
	StageDBSavingComplete:   "Saving to database completed",
	StageLDAPSavingStarted:  "Saving to LDAP started",
	StageLDAPSavingProgress: "Saving to LDAP in progress",
	StageLDAPSavingComplete: "Saving to LDAP completed",
	StageCompleted:          "Completed",
	StageFailed:             "Failed",
}

// StageName returns the human-readable label for a stage, or the raw
// stage string if unrecognized.
func StageName(s Stage) string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return string(s)
}

// Event is one progress update for an upload (spec section 6 SSE
// contract).
type Event struct {
	UploadID       string         `json:"uploadId"`
	Stage          Stage          `json:"stage"`
	StageName      string         `json:"stageName"`
	Percentage     int            `json:"percentage"`
	ProcessedCount int            `json:"processedCount,omitempty"`
	TotalCount     int            `json:"totalCount,omitempty"`
	Message        string         `json:"message,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Subscriber receives every Event sent for the upload it registered
// against. A Subscriber that returns an error is treated as dead and
// removed.
type Subscriber func(Event) error

// Manager is the process-wide cache + subscriber registry. Safe for
// concurrent use.
type Manager struct {
	mu          sync.Mutex
	latest      map[string]Event
	subscribers map[string][]Subscriber
	log         *zap.Logger
}

func New(log *zap.Logger) *Manager {
	return &Manager{
		latest:      make(map[string]Event),
		subscribers: make(map[string][]Subscriber),
		log:         log,
	}
}

// Send updates the cache for e.UploadID and forwards e to every live
// subscriber, silently dropping any whose callback errors.
func (m *Manager) Send(e Event) {
	if e.Percentage == 0 {
		e.Percentage = BasePercent(e.Stage)
	}
	if e.StageName == "" {
		e.StageName = StageName(e.Stage)
	}
	e.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	m.latest[e.UploadID] = e
	subs := m.subscribers[e.UploadID]
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	live := subs[:0]
	for _, sub := range subs {
		if err := sub(e); err != nil {
			if m.log != nil {
				m.log.Debug("dropping dead progress subscriber", zap.String("uploadId", e.UploadID), zap.Error(err))
			}
			continue
		}
		live = append(live, sub)
	}
	m.mu.Lock()
	if len(live) == 0 {
		delete(m.subscribers, e.UploadID)
	} else {
		m.subscribers[e.UploadID] = live
	}
	m.mu.Unlock()
}

// Subscribe attaches cb to uploadID and immediately replays the
// cached latest event, if any, so a late subscriber doesn't miss
// progress that already happened.
func (m *Manager) Subscribe(uploadID string, cb Subscriber) {
	m.mu.Lock()
	m.subscribers[uploadID] = append(m.subscribers[uploadID], cb)
	last, ok := m.latest[uploadID]
	m.mu.Unlock()

	if ok {
		_ = cb(last)
	}
}

// Snapshot returns the cached latest event for uploadID, for the
// pull-based polling fallback.
func (m *Manager) Snapshot(uploadID string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.latest[uploadID]
	return e, ok
}

// SSEFrame serializes e as a single server-sent-event frame:
// "event: progress\ndata: {...}\n\n".
func SSEFrame(e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return "event: progress\ndata: " + string(data) + "\n\n", nil
}
