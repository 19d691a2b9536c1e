package domain

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
)

type backupService interface {
	RunBackup(context.Context, Job) (Result, error)
}

type scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Start()
	Stop() context.Context
}

// BackupManager runs jobs on their cron schedules. Every job has its own
// worker fed by a single-slot queue, so a tick arriving while the previous
// run is still pending is dropped. Jobs sharing an output directory are
// serialized.
type BackupManager struct {
	logger logrus.FieldLogger

	jobs   map[string]Job
	active map[string]chan time.Time
	locks  map[string]*sync.Mutex

	service backupService
	repo    RunRepository

	cron scheduler
	wg   sync.WaitGroup

	// mu guards stopped and sends on active channels
	mu      sync.Mutex
	stopped bool
}

func NewBackupManager(
	logger logrus.FieldLogger,
	jobs []Job,
	service backupService,
	repo RunRepository,
	cron scheduler,
) *BackupManager {
	m := &BackupManager{
		logger: logger,

		jobs:   make(map[string]Job, len(jobs)),
		active: make(map[string]chan time.Time, len(jobs)),
		locks:  make(map[string]*sync.Mutex),

		service: service,
		repo:    repo,

		cron: cron,
	}

	for _, job := range jobs {
		m.jobs[job.Name] = job
		m.active[job.Name] = make(chan time.Time, 1)

		output := filepath.Clean(job.Output)
		if _, ok := m.locks[output]; !ok {
			m.locks[output] = &sync.Mutex{}
		}
	}

	return m
}

// Start registers every job with the scheduler and starts the workers.
func (m *BackupManager) Start() error {
	for name, ch := range m.active {
		job := m.jobs[name]

		if job.CronSpec != "" {
			if err := m.register(job, ch); err != nil {
				m.logger.WithError(err).WithField("spec", job.CronSpec).Errorf("Invalid cron spec: '%s'", job.CronSpec)
				return err
			}
		}

		if job.RunOnStart {
			m.dispatch(job.Name, ch, time.Now())
		}
	}

	m.wg.Add(len(m.active))

	for name, ch := range m.active {
		go m.handleJobRuns(m.jobs[name], ch)
	}

	m.logger.Debug("Starting cron")
	m.cron.Start()

	return nil
}

// Stop stops scheduling and waits for running backups to complete. Runs
// dispatched after Stop are rejected.
func (m *BackupManager) Stop(ctx context.Context) error {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}

	m.stopped = true
	for _, ch := range m.active {
		close(ch)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger enqueues an immediate run. It reports false when the job is
// unknown, a run is already pending or the manager is stopped.
func (m *BackupManager) Trigger(name string) bool {
	ch, ok := m.active[name]
	if !ok {
		return false
	}

	return m.dispatch(name, ch, time.Now())
}

func (m *BackupManager) register(job Job, ch chan<- time.Time) error {
	_, err := m.cron.AddFunc(job.CronSpec, func() {
		m.dispatch(job.Name, ch, time.Now())
	})

	return err
}

func (m *BackupManager) dispatch(name string, ch chan<- time.Time, t time.Time) bool {
	fields := logrus.Fields{"job": name, "scheduled_at": t}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		m.logger.WithFields(fields).Warn("Unable to dispatch new backup, manager is stopped")
		return false
	}

	select {
	case ch <- t:
		m.logger.WithFields(fields).Info("Dispatched new backup")
		return true
	default:
		m.logger.WithFields(fields).Warn("Unable to dispatch new backup, previous one is still pending")
		return false
	}
}

func (m *BackupManager) handleJobRuns(job Job, ch <-chan time.Time) {
	defer m.wg.Done()

	baseCtx := appcontext.WithJobName(context.Background(), job.Name)
	logger := appcontext.LoggerFromContext(m.logger, baseCtx)

	logger.WithField("spec", job.CronSpec).Debug("Starting job handler")

	for range ch {
		m.handleJobRun(baseCtx, job)
	}
}

func (m *BackupManager) handleJobRun(ctx context.Context, job Job) {
	lock := m.locks[filepath.Clean(job.Output)]
	lock.Lock()
	defer lock.Unlock()

	run, err := m.repo.Create(ctx, Run{Job: job.Name, StartedAt: time.Now()})
	if err != nil {
		appcontext.LoggerFromContext(m.logger, ctx).WithError(err).Error("Unable to create run record")
	}

	ctx = appcontext.WithRunId(ctx, run.Id)
	logger := appcontext.LoggerFromContext(m.logger, ctx)

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	logger.Info("Starting backup")

	result, err := m.service.RunBackup(runCtx, job)
	if err != nil {
		logger.WithError(err).Error("Backup failed")
	} else {
		logger.WithFields(logrus.Fields{
			"archive":     result.Archive,
			"size":        result.Size,
			"evictions":   result.Evictions,
			"diagnostics": len(result.Diagnostics),
		}).Info("Backup finished")
	}

	for _, d := range result.Diagnostics {
		logger.WithField("path", d.Path).WithError(d.Err).Warn(d.Kind.String())
	}

	if run.Id == 0 {
		return
	}

	err = m.repo.Update(context.Background(), run.apply(result, err))
	if err != nil {
		logger.WithError(err).Error("Unable to update run record")
	}
}
