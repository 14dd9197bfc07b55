package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
)

const jobStoreDir = "jobs"

type jobRepository struct {
	store *badgerhold.Store
}

func NewBatchJobRepository(config ...interface{}) (domain.BatchJobRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, jobStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %s", err)
	}

	return &jobRepository{store}, nil
}

func (r *jobRepository) Add(ctx context.Context, job domain.BatchJob) error {
	if err := r.store.Insert(job.ID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return err
	}
	return nil
}

func (r *jobRepository) Update(ctx context.Context, job domain.BatchJob) error {
	err := r.store.Update(job.ID, &job)
	if errors.Is(err, badger.ErrConflict) {
		attempts := 1
		for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
			time.Sleep(100 * time.Millisecond)
			err = r.store.Update(job.ID, &job)
			attempts++
		}
	}
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("job %s not found", job.ID)
	}
	return err
}

func (r *jobRepository) Get(ctx context.Context, id string) (*domain.BatchJob, error) {
	var job domain.BatchJob
	if err := r.store.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s not found", id)
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) GetUnfinished(ctx context.Context) ([]domain.BatchJob, error) {
	var jobs []domain.BatchJob
	if err := r.store.Find(
		&jobs, badgerhold.Where("Status").In(
			domain.JobStatusPending, domain.JobStatusRunning,
		),
	); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepository) Close() {
	// nolint:all
	r.store.Close()
}
