package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
)

// StartBatch runs count sequential inscription cycles in the background,
// driving the commit/reveal machine with the given signer. Progress is
// persisted after every completed cycle so a failed batch resumes at the
// first incomplete unit instead of re-inscribing what already landed.
func (s *service) StartBatch(
	ctx context.Context, req BatchRequest, signer ports.Signer,
) (*domain.BatchJob, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("batch count must be positive")
	}
	if signer == nil {
		return nil, fmt.Errorf("batch signer is required")
	}
	if err := req.Content.Validate(); err != nil {
		return nil, fmt.Errorf("invalid content: %s", err)
	}

	now := time.Now().Unix()
	job := domain.BatchJob{
		ID:          uuid.NewString(),
		Type:        domain.JobTypeMint,
		Status:      domain.JobStatusPending,
		Address:     req.Address,
		PubKey:      req.PubKey,
		Destination: req.Destination,
		Content:     req.Content,
		TotalCount:  req.Count,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repoManager.Jobs().Add(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist batch job: %s", err)
	}

	s.wg.Add(1)
	go s.runBatch(job.ID, signer)

	return &job, nil
}

func (s *service) GetBatch(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	return s.repoManager.Jobs().Get(ctx, jobID)
}

// CancelBatch marks a job cancelled. A running job observes the flag between
// cycles; the cycle in flight is allowed to finish so no commit is left
// without its reveal.
func (s *service) CancelBatch(ctx context.Context, jobID string) error {
	job, err := s.repoManager.Jobs().Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("batch job %s is already %s", jobID, job.Status)
	}
	job.Status = domain.JobStatusCancelled
	job.UpdatedAt = time.Now().Unix()
	return s.repoManager.Jobs().Update(ctx, *job)
}

// ResumeBatch restarts a failed job at its first incomplete unit.
func (s *service) ResumeBatch(
	ctx context.Context, jobID string, signer ports.Signer,
) (*domain.BatchJob, error) {
	job, err := s.repoManager.Jobs().Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("batch signer is required")
	}
	if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusPending {
		return nil, fmt.Errorf("batch job %s is %s, cannot be resumed", jobID, job.Status)
	}

	job.Status = domain.JobStatusPending
	job.Error = ""
	job.UpdatedAt = time.Now().Unix()
	if err := s.repoManager.Jobs().Update(ctx, *job); err != nil {
		return nil, fmt.Errorf("failed to persist batch job: %s", err)
	}

	s.wg.Add(1)
	go s.runBatch(jobID, signer)

	return job, nil
}

func (s *service) runBatch(jobID string, signer ports.Signer) {
	defer s.wg.Done()
	ctx := context.Background()

	job, err := s.repoManager.Jobs().Get(ctx, jobID)
	if err != nil {
		log.WithError(err).WithField("job", jobID).Error("failed to load batch job")
		return
	}
	if job.Status != domain.JobStatusPending {
		log.WithField("job", jobID).Warnf("batch job is %s, not running it", job.Status)
		return
	}

	job.Status = domain.JobStatusRunning
	job.UpdatedAt = time.Now().Unix()
	if err := s.repoManager.Jobs().Update(ctx, *job); err != nil {
		log.WithError(err).WithField("job", jobID).Error("failed to persist batch job")
		return
	}

	for i := job.CompletedCount; i < job.TotalCount; i++ {
		// Reload to observe a cancellation between cycles.
		current, err := s.repoManager.Jobs().Get(ctx, jobID)
		if err == nil && current.Status == domain.JobStatusCancelled {
			log.WithField("job", jobID).Infof(
				"batch job cancelled after %d of %d units", job.CompletedCount, job.TotalCount,
			)
			return
		}

		result, contextID, err := s.runInscriptionCycle(ctx, job, signer)
		if err != nil {
			s.cleanupFailedCycle(ctx, contextID)
			job.Status = domain.JobStatusFailed
			job.Error = err.Error()
			job.UpdatedAt = time.Now().Unix()
			if err := s.repoManager.Jobs().Update(ctx, *job); err != nil {
				log.WithError(err).WithField("job", jobID).
					Error("failed to persist batch job")
			}
			log.WithError(err).WithField("job", jobID).Warnf(
				"batch job failed at unit %d of %d", i+1, job.TotalCount,
			)
			return
		}

		job.CompletedCount++
		job.ProducedIDs = append(job.ProducedIDs, result.InscriptionID)
		job.UpdatedAt = time.Now().Unix()
		if err := s.repoManager.Jobs().Update(ctx, *job); err != nil {
			log.WithError(err).WithField("job", jobID).Error("failed to persist batch job")
			return
		}
	}

	// A cancellation may have landed while the last cycle was in flight.
	if current, err := s.repoManager.Jobs().Get(ctx, jobID); err == nil &&
		current.Status == domain.JobStatusCancelled {
		return
	}

	job.Status = domain.JobStatusCompleted
	job.UpdatedAt = time.Now().Unix()
	if err := s.repoManager.Jobs().Update(ctx, *job); err != nil {
		log.WithError(err).WithField("job", jobID).Error("failed to persist batch job")
		return
	}
	log.WithField("job", jobID).Infof("batch job completed, %d inscriptions", job.TotalCount)
}

func (s *service) runInscriptionCycle(
	ctx context.Context, job *domain.BatchJob, signer ports.Signer,
) (*InscriptionResult, string, error) {
	signingReq, err := s.StartInscription(ctx, StartInscriptionRequest{
		Address:     job.Address,
		PubKey:      job.PubKey,
		Destination: job.Destination,
		Content:     job.Content,
	})
	if err != nil {
		return nil, "", err
	}
	contextID := signingReq.ContextID

	commitSigs, err := signer.SignDigests(ctx, signingReq.Digests)
	if err != nil {
		return nil, contextID, fmt.Errorf("signer failed on commit digests: %s", err)
	}
	revealReq, err := s.SubmitCommitSignatures(ctx, contextID, commitSigs)
	if err != nil {
		return nil, contextID, err
	}

	revealSigs, err := signer.SignDigests(ctx, revealReq.Digests)
	if err != nil {
		return nil, contextID, fmt.Errorf("signer failed on reveal digest: %s", err)
	}
	if len(revealSigs) != 1 {
		return nil, contextID, fmt.Errorf(
			"signer returned %d reveal signatures, want 1", len(revealSigs),
		)
	}
	result, err := s.SubmitRevealSignature(ctx, contextID, revealSigs[0])
	return result, contextID, err
}

// cleanupFailedCycle releases the leases of a cycle that failed before its
// commit reached the chain. A cycle whose commit broadcast is kept as is so
// its reveal can still be retried.
func (s *service) cleanupFailedCycle(ctx context.Context, contextID string) {
	if contextID == "" {
		return
	}
	txCtx, err := s.repoManager.Contexts().Get(ctx, contextID)
	if err != nil || txCtx.CommitTxid != "" || txCtx.Phase.IsTerminal() {
		return
	}
	if err := s.abortContext(ctx, txCtx); err != nil {
		log.WithError(err).WithField("context", contextID).
			Warn("failed to abort context of failed batch cycle")
	}
}
