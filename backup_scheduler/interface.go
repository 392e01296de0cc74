package backup_scheduler

import "context"

type Scheduler interface {
	Start()
	Stop() context.Context
	RunNow() (string, error)
}
