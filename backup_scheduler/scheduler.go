package backup_scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"comfy_studio/history_store"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

type schedulerImpl struct {
	cron    *cron.Cron
	store   history_store.Store
	entryID cron.EntryID
}

type Config struct {
	// Schedule is a standard five field cron spec or a descriptor such as
	// "@daily" or "@every 6h".
	Schedule string
	Store    history_store.Store
}

func New(cfg Config) (Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("missing history store")
	}

	if cfg.Schedule == "" {
		return nil, errors.New("missing backup schedule")
	}

	c := cron.New(
		cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		),
	)

	scheduler := &schedulerImpl{
		cron:  c,
		store: cfg.Store,
	}

	entryID, err := c.AddJob(cfg.Schedule, &backupJob{scheduler: scheduler})
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", cfg.Schedule, err)
	}

	scheduler.entryID = entryID

	log.Printf("Registered history backup with schedule %q", cfg.Schedule)

	return scheduler, nil
}

func (s *schedulerImpl) Start() {
	s.cron.Start()

	log.Printf("History backups scheduled, next run at %s", s.cron.Entry(s.entryID).Next.Format(time.RFC3339))
}

// Stop halts the schedule. The returned context is done once a running backup
// has finished.
func (s *schedulerImpl) Stop() context.Context {
	return s.cron.Stop()
}

func (s *schedulerImpl) RunNow() (string, error) {
	return s.store.Backup()
}

type backupJob struct {
	scheduler *schedulerImpl
}

func (j *backupJob) Run() {
	runID := uuid.NewString()
	started := time.Now()

	path, err := j.scheduler.RunNow()

	switch {
	case errors.Is(err, history_store.ErrNothingToBackup):
		log.Printf("Scheduled backup %s skipped, no history log yet", runID)
	case err != nil:
		log.Printf("Scheduled backup %s failed: %v", runID, err)
	default:
		log.Printf("Scheduled backup %s wrote %s in %s", runID, path, time.Since(started))
	}
}
