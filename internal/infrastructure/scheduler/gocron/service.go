package timescheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/cloutprotocol/zatoshid/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) ScheduleTaskAtInterval(seconds int, task func()) error {
	if seconds <= 0 {
		return fmt.Errorf("invalid interval %d", seconds)
	}
	if task == nil {
		return fmt.Errorf("task is required")
	}
	_, err := s.scheduler.Every(seconds).Seconds().Do(task)
	return err
}
