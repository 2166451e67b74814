package task

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a photo-processing task.
type Status string

const (
	StatusUploaded       Status = "UPLOADED"
	StatusColorCorrected Status = "COLOR_CORRECTED"
	StatusPublished      Status = "PUBLISHED"
	StatusFailed         Status = "FAILED"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusColorCorrected,
	StatusPublished,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Per-photo result statuses.
const (
	PhotoCompleted = "completed"
	PhotoPublished = "published"
	PhotoFailed    = "failed"
)

// Agent names recorded in the audit log.
const (
	AgentUploader       = "uploader"
	AgentColorCorrector = "color_corrector"
	AgentPublisher      = "publisher"
	AgentDispatcher     = "dispatcher"
)

// Audit log actions.
const (
	ActionTaskCreated              = "task_created"
	ActionPhotoUploaded            = "photo_uploaded"
	ActionColorCorrectionCompleted = "color_correction_completed"
	ActionPublishCompleted         = "publish_completed"
	ActionDispatchSuperseded       = "dispatch_superseded"
	ActionRetryScheduled           = "retry_scheduled"
	ActionRetriesExhausted         = "retries_exhausted"
	ActionRetryRequested           = "retry_requested"
)

// Adjustments holds color-correction multipliers around 1.0.
type Adjustments struct {
	Brightness float64 `json:"brightness,omitempty"`
	Contrast   float64 `json:"contrast,omitempty"`
	Saturation float64 `json:"saturation,omitempty"`
	Sharpness  float64 `json:"sharpness,omitempty"`
}

// Metadata carries the immutable descriptive fields set by the creator.
// The orchestration core only reads it.
type Metadata struct {
	ProductName string   `json:"product_name"`
	Title       string   `json:"title,omitempty"`
	Locale      string   `json:"locale,omitempty"`
	PhotoURLs   []string `json:"photo_urls"`
}

// PhotoAnalysis is one per-photo color-correction result, keyed by PhotoIndex.
type PhotoAnalysis struct {
	PhotoIndex    int         `json:"photo_index"`
	SourcePath    string      `json:"source_path"`
	CorrectedPath string      `json:"corrected_path,omitempty"`
	Status        string      `json:"status"`
	Adjustments   Adjustments `json:"adjustments,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// PhotoPublish is one per-photo publish result, keyed by PhotoIndex.
type PhotoPublish struct {
	PhotoIndex int    `json:"photo_index"`
	Status     string `json:"status"`
	MediaID    int64  `json:"media_id,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LogEntry is one append-only audit record in a task's agent log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Note      string    `json:"note,omitempty"`
}

// RetryMetadata tracks dispatch retry bookkeeping for a task.
type RetryMetadata struct {
	Count     int    `json:"count"`
	LastError string `json:"last_error,omitempty"`
}

// Task represents one SKU's photo-processing record persisted in SQLite.
type Task struct {
	ID             int64
	SKU            string
	Status         Status
	WorkflowStep   int
	Metadata       Metadata
	ColorAnalysis  []PhotoAnalysis
	PublishResults []PhotoPublish
	AgentLog       []LogEntry
	Retry          RetryMetadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further automatic dispatch occurs for a status.
func (s Status) IsTerminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// IsDispatchable reports whether a status has a defined next pipeline step.
func (s Status) IsDispatchable() bool {
	return s == StatusUploaded || s == StatusColorCorrected
}

// DispatchableStatuses returns the statuses the change feed listener emits
// work items for.
func DispatchableStatuses() []Status {
	return []Status{StatusUploaded, StatusColorCorrected}
}

// StepForStatus returns the workflow_step mirror for a status. FAILED has no
// position of its own; callers preserve the step the task failed at.
func StepForStatus(s Status) (int, bool) {
	switch s {
	case StatusUploaded:
		return 1, true
	case StatusColorCorrected:
		return 2, true
	case StatusPublished:
		return 3, true
	default:
		return 0, false
	}
}

// SetStatus advances the task status and keeps workflow_step consistent.
func (t *Task) SetStatus(s Status) {
	t.Status = s
	if step, ok := StepForStatus(s); ok {
		t.WorkflowStep = step
	}
}

// AppendLog appends one audit entry to the task's agent log.
func (t *Task) AppendLog(agent, action, note string) {
	t.AgentLog = append(t.AgentLog, LogEntry{
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Action:    action,
		Note:      note,
	})
}

// MergeColorAnalysis overwrites or appends entries keyed by photo index,
// preserving order. Re-running a step never duplicates an entry.
func (t *Task) MergeColorAnalysis(entries []PhotoAnalysis) {
	for _, entry := range entries {
		replaced := false
		for i := range t.ColorAnalysis {
			if t.ColorAnalysis[i].PhotoIndex == entry.PhotoIndex {
				t.ColorAnalysis[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			t.ColorAnalysis = append(t.ColorAnalysis, entry)
		}
	}
}

// MergePublishResults overwrites or appends entries keyed by photo index.
func (t *Task) MergePublishResults(entries []PhotoPublish) {
	for _, entry := range entries {
		replaced := false
		for i := range t.PublishResults {
			if t.PublishResults[i].PhotoIndex == entry.PhotoIndex {
				t.PublishResults[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			t.PublishResults = append(t.PublishResults, entry)
		}
	}
}

// HealthSummary describes aggregated task counts per lifecycle state.
type HealthSummary struct {
	Total          int
	Uploaded       int
	ColorCorrected int
	Published      int
	Failed         int
}
