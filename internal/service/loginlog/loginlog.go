// Package loginlog records successful sign-ins into the audit store.
//
// Recording is fire and forget: the authentication path enqueues an entry and
// moves on, a background worker writes it out. A slow or unavailable audit
// store must never fail or delay a login.
package loginlog

import (
	"context"
	"time"

	"github.com/pkosilov/accounts/internal/logger"
	"github.com/pkosilov/accounts/internal/models"
	"github.com/pkosilov/accounts/internal/repository"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 2 * time.Second
)

type Config struct {
	// Max entries buffered before Record starts dropping
	// If not set then default is used
	QueueSize int

	// Max time a single audit store write may take
	// If not set then default is used
	WriteTimeout time.Duration
}

type Recorder struct {
	repo         repository.LoginLogRepo
	logger       logger.Logger
	queue        chan models.LoginLog
	writeTimeout time.Duration
}

func NewRecorder(cfg Config, repo repository.LoginLogRepo, l logger.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	return &Recorder{
		repo:         repo,
		logger:       l,
		queue:        make(chan models.LoginLog, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
	}
}

// Record enqueues entry for the background worker
// Never blocks: when the queue is full the entry is dropped and logged
func (r *Recorder) Record(entry models.LoginLog) {
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, login entry dropped", "user_email", entry.UserEmail)
	}
}

// Run starts the worker that writes queued entries to the audit store
// Returns a channel closed when the worker has fully stopped
func (r *Recorder) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	go func() {
		defer close(idleStopped)

		for {
			select {
			case <-ctx.Done():
				r.drain()
				r.logger.Debug("Login log recorder stopped")
				return

			case entry := <-r.queue:
				r.write(entry)
			}
		}
	}()

	return idleStopped
}

// List returns recorded entries for the email in insertion order
func (r *Recorder) List(ctx context.Context, email string) ([]models.LoginLog, error) {
	return r.repo.ListByEmail(ctx, email)
}

func (r *Recorder) write(entry models.LoginLog) {
	// The parent context may already be canceled on shutdown, writes get
	// their own deadline
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	_, err := r.repo.Append(ctx, entry)
	if err != nil {
		r.logger.Error("Failed to record login entry", "error", err, "user_email", entry.UserEmail)
	}
}

// Write out what is still buffered on shutdown
func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		default:
			return
		}
	}
}
