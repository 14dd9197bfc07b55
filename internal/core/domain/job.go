package domain

type JobStatus uint8

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusCancelled
)

func (s JobStatus) String() string {
	return []string{
		"Pending",
		"Running",
		"Completed",
		"Failed",
		"Cancelled",
	}[s]
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

type JobType uint8

const (
	JobTypeMint JobType = iota
)

// BatchJob tracks N sequential orchestration cycles of one logical
// operation. CompletedCount only advances on a fully broadcast reveal;
// ProducedIDs are never erased by a later failure, so a re-invocation
// resumes at the first incomplete unit without re-spending anything.
type BatchJob struct {
	ID             string
	Type           JobType
	Status         JobStatus
	Address        string
	PubKey         string
	Destination    string
	Content        InscriptionContent
	TotalCount     int
	CompletedCount int
	ProducedIDs    []string
	Error          string
	CreatedAt      int64
	UpdatedAt      int64
}
