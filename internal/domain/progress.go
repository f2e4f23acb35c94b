package domain

// DownloadProgress is the counter snapshot sent to the UI layer.
// Active is true while Finished < Total.
type DownloadProgress struct {
	Total    int  `json:"total"`
	Finished int  `json:"finished"`
	Active   bool `json:"active"`
}

// ProgressFunc receives a snapshot every time a counter changes.
type ProgressFunc func(DownloadProgress)

// TaskStatus is the lifecycle of a single download
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// DownloadTask describes one transfer from SourceURL to FinalPath via StagingPath.
// Only a fully streamed transfer renames staging to final.
type DownloadTask struct {
	SourceURL   string
	StagingPath string
	FinalPath   string
	Status      TaskStatus
	ContentType string
	Bytes       int64
}

// Done returns true once the task reached a terminal status
func (t DownloadTask) Done() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}
