package core

import (
	"time"

	"extract-core/failure"
	llmclient "extract-core/llm-client"
)

// StopLevel is the run's cancellation tier. It only ever increases.
type StopLevel int32

const (
	Running  StopLevel = 0
	SoftStop StopLevel = 1
	HardStop StopLevel = 2
)

func (l StopLevel) String() string {
	switch l {
	case Running:
		return "running"
	case SoftStop:
		return "soft_stop"
	case HardStop:
		return "hard_stop"
	default:
		return "unknown"
	}
}

// TaskState tracks one task's lifecycle: Pending, then Running, then Done.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
)

// Task is one (input, sample) unit of work.
type Task struct {
	ID           string    `json:"id"`
	InputID      string    `json:"input_id"`
	SourcePath   string    `json:"source_path"`
	SampleIndex  int       `json:"sample_index"`
	TotalSamples int       `json:"total_samples"`
	State        TaskState `json:"state"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	// Abandoned is set when the task never started because the run stopped.
	Abandoned bool `json:"abandoned,omitempty"`
}

// FileStatus is the outcome of one input.
type FileStatus string

const (
	FileSucceeded FileStatus = "succeeded"
	FileFailed    FileStatus = "failed"
	FileCancelled FileStatus = "cancelled"
)

// FileRecord is the per-input entry of the run summary.
type FileRecord struct {
	Input        string        `json:"input"`
	Output       string        `json:"output,omitempty"`
	Status       FileStatus    `json:"status"`
	Rows         int           `json:"rows"`
	Confidence   float64       `json:"confidence"`
	Samples      int           `json:"samples"`
	Selected     int           `json:"selected_sample"`
	Fallback     bool          `json:"fallback,omitempty"`
	UsedFallback bool          `json:"used_fallback_provider,omitempty"`
	Attempts     int           `json:"attempts"`
	ErrorType    failure.Type  `json:"error_type,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// RunSummary is written at the end of every run.
type RunSummary struct {
	RunID            string               `json:"run_id"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
	Mode             Mode                 `json:"mode"`
	StopLevel        string               `json:"stop_level"`
	StopReason       string               `json:"stop_reason,omitempty"`
	Total            int                  `json:"total"`
	Succeeded        int                  `json:"succeeded"`
	Failed           int                  `json:"failed"`
	Cancelled        int                  `json:"cancelled"`
	PerFile          []FileRecord         `json:"per_file"`
	TokenStats       llmclient.TokenStats `json:"token_stats"`
	ErrorStatsByType map[failure.Type]int `json:"error_stats_by_type"`
}
