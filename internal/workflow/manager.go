package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidpilot/internal/config"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/notifications"
)

const queueCapacity = 256

// Manager coordinates job processing across a pool of workers.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	deps         Dependencies
	logger       *slog.Logger
	owner        string
	workers      int
	pollInterval time.Duration
	leaseTimeout time.Duration

	heartbeat *HeartbeatMonitor
	jobLogs   *JobLogs

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	queue    chan string
	queued   map[string]struct{}
	inflight map[string]*inflightJob
	requeue  map[string]struct{}
	lastErr  error
	lastJob  *jobs.Job

	queueActive bool
	queueStart  time.Time
}

// NewManager constructs a workflow manager. A nil notifier is replaced by
// the one configured in cfg.
func NewManager(cfg *config.Config, store *jobs.Store, deps Dependencies, logger *slog.Logger) *Manager {
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	workers := cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := time.Duration(cfg.Workflow.PollInterval) * time.Second
	if poll <= 0 {
		poll = 30 * time.Second
	}
	owner := "vidpilot-" + uuid.NewString()
	m := &Manager{
		cfg:          cfg,
		store:        store,
		deps:         deps,
		logger:       logger,
		owner:        owner,
		workers:      workers,
		pollInterval: poll,
		leaseTimeout: time.Duration(cfg.Workflow.LeaseTimeout) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			owner,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
		),
		jobLogs:  NewJobLogs(cfg),
		queued:   make(map[string]struct{}),
		inflight: make(map[string]*inflightJob),
		requeue:  make(map[string]struct{}),
	}
	if deps.Approval != nil {
		deps.Approval.OnApproved(m.Submit)
	}
	return m
}

// inflightJob is a job held by a worker. cancelled is closed once when
// cancellation is requested; it only interrupts waits between attempts.
type inflightJob struct {
	cancelled chan struct{}
	once      sync.Once
}

func newInflightJob() *inflightJob {
	return &inflightJob{cancelled: make(chan struct{})}
}

func (j *inflightJob) requestCancel() {
	j.once.Do(func() { close(j.cancelled) })
}

// Owner is the lease owner name this manager claims jobs with.
func (m *Manager) Owner() string {
	return m.owner
}
