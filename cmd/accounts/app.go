package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkosilov/accounts/internal/db"
	"github.com/pkosilov/accounts/internal/handlers"
	"github.com/pkosilov/accounts/internal/logger"
	"github.com/pkosilov/accounts/internal/repository/couchdb"
	"github.com/pkosilov/accounts/internal/repository/postgres"
	"github.com/pkosilov/accounts/internal/service/account"
	"github.com/pkosilov/accounts/internal/service/account/tokenmanager"
	"github.com/pkosilov/accounts/internal/service/loginlog"
	"github.com/pkosilov/accounts/internal/service/mailer"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger   logger.Logger
	recorder *loginlog.Recorder
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the credential database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	storage := postgres.NewStorage(pool)

	// Connect to the audit store
	auditRepo, err := couchdb.New(ctx, c.AuditDSN, c.AuditDBName)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to audit store. Err: %w", err)
	}
	recorder := loginlog.NewRecorder(loginlog.Config{}, auditRepo, log)

	// Outgoing mail goes to the queue, or to the log when no broker configured
	var mail mailer.Mailer
	switch c.AMQPURL {
	case "":
		log.Warn("No mail broker configured, outgoing mail will only be logged")
		mail = mailer.LogMailer{L: log}
	default:
		amqpMailer, err := mailer.NewAMQPMailer(c.AMQPURL, c.MailQueue)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to mail broker. Err: %w", err)
		}
		mail = amqpMailer
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
	}, storage.Refresh())
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	accountService, err := account.NewService(account.Config{}, storage, tokenManager, recorder, mail, log)
	if err != nil {
		return nil, fmt.Errorf("error while creating account service. Err: %w", err)
	}

	mux := handlers.NewRouter(accountService, recorder, log)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     log,
		recorder:   recorder,
	}, nil
}

// Run starts the audit recorder and http server, closes gracefully on
// context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	recorderStopped := s.recorder.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	// Let the recorder write out what is still buffered
	<-recorderStopped

	return err
}
