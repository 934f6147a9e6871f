package domain

// TaskState enumerates the lifecycle states the backend reports for a task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// TaskInfo describes a single task known to the backend.
type TaskInfo struct {
	ID      string    `json:"id"`
	Content string    `json:"content"`
	State   TaskState `json:"state"`
	Result  string    `json:"result,omitempty"`
}

// ProjectContext holds the project files and recent task history returned by
// the backend context endpoint.
type ProjectContext struct {
	ProjectID   string     `json:"project_id"`
	Files       []string   `json:"files"`
	RecentTasks []TaskInfo `json:"recent_tasks"`
}

// TaskStatus is a point-in-time snapshot of task execution counters.
// Each query replaces the caller's view; nothing is retained historically.
type TaskStatus struct {
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Running     int    `json:"running"`
	Failed      int    `json:"failed"`
	CurrentTask string `json:"current_task,omitempty"`
}
