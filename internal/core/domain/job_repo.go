package domain

import "context"

type BatchJobRepository interface {
	Add(ctx context.Context, job BatchJob) error
	Update(ctx context.Context, job BatchJob) error
	Get(ctx context.Context, id string) (*BatchJob, error)
	GetUnfinished(ctx context.Context) ([]BatchJob, error)
	Close()
}
