package ports

type SchedulerService interface {
	Start()
	Stop()
	ScheduleTaskAtInterval(seconds int, task func()) error
}
