package eventbus

import "time"

const (
	TopicJobDispatched = "job.dispatched"
	TopicJobStarted    = "job.started"
	TopicJobFinished   = "job.finished"
	TopicJobFailed     = "job.failed"
	TopicJobTimeout    = "job.timeout"
	TopicJobCancelled  = "job.cancelled"
	TopicJobProgress   = "job.progress"
	TopicJobRejected   = "job.rejected"

	TopicControllerStarted = "controller.started"
	TopicControllerStopped = "controller.stopped"
)

// JobEvent is the payload of every job.* topic.
//
// Status is the job's self-reported status at publish time, when the job
// exposes one; the scheduler never assigns it.
type JobEvent struct {
	RunID    string        `json:"run_id,omitempty"`
	Key      string        `json:"key"`
	Status   string        `json:"status,omitempty"`
	Percent  int           `json:"percent,omitempty"`
	Started  time.Time     `json:"started,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ControllerEvent is the payload of the controller.* topics.
type ControllerEvent struct {
	Workers    int    `json:"workers"`
	Dispatched uint64 `json:"dispatched"`
	Reason     string `json:"reason,omitempty"`
}

// OutcomeTopics lists the topics that mark the end of a run.
func OutcomeTopics() []string {
	return []string{TopicJobFinished, TopicJobFailed, TopicJobTimeout, TopicJobCancelled}
}
