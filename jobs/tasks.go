package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAutoFreezeSweep fans out one auto freeze task per anchored company.
	TaskAutoFreezeSweep = "periods:auto_freeze_sweep"
	// TaskAutoFreeze freezes the current window of a single company.
	TaskAutoFreeze = "periods:auto_freeze"

	dateLayout = "2006-01-02"
)

// AutoFreezePayload targets one company. ReferenceDate is optional and pins the
// window to freeze; empty means the window containing the run instant.
type AutoFreezePayload struct {
	CompanyID     string `json:"company_id"`
	ReferenceDate string `json:"reference_date,omitempty"`
}

// NewAutoFreezeTask constructs an Asynq task for a single company.
func NewAutoFreezeTask(payload AutoFreezePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutoFreeze, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(2*time.Minute)), nil
}

// NewAutoFreezeSweepTask constructs the scheduled sweep task.
func NewAutoFreezeSweepTask() *asynq.Task {
	return asynq.NewTask(TaskAutoFreezeSweep, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}
