package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"esic/internal/mail"
	"esic/internal/model"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// TypeEmailSend carries one model.Notificacao as JSON.
	TypeEmailSend = "email:send"

	// QueueNotificacoes holds requester e-mails.
	QueueNotificacoes = "notificacoes"

	emailMaxRetry      = 5
	defaultConcurrency = 5
)

// JobServer runs the notification worker. The client it returns is the
// producer side, shared with service.AsynqNotifier.
type JobServer struct {
	server *asynq.Server
	client *asynq.Client
	mailer mail.Mailer
	log    *zap.Logger
}

func NewJobServer(redisOpt asynq.RedisClientOpt, concurrency int, mailer mail.Mailer, log *zap.Logger) (*JobServer, *asynq.Client) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	js := &JobServer{
		client: asynq.NewClient(redisOpt),
		mailer: mailer,
		log:    log,
	}
	js.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueNotificacoes: 1},
		Logger:      log.Named("asynq").Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			js.log.Warn("Job failed",
				zap.String("type", task.Type()),
				zap.Int("retry", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	})
	return js, js.client
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEmailSend, js.handleEmailSend)
	return js.server.Start(mux)
}

// Stop waits for in-flight deliveries before closing the producer.
func (js *JobServer) Stop() {
	js.server.Shutdown()
	if err := js.client.Close(); err != nil {
		js.log.Warn("Failed to close job client", zap.Error(err))
	}
}

// handleEmailSend renders and delivers one notification. Payload and
// template problems are permanent and skip retries; mailer errors retry.
func (js *JobServer) handleEmailSend(ctx context.Context, t *asynq.Task) error {
	var n model.Notificacao
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("invalid email payload: %v: %w", err, asynq.SkipRetry)
	}
	if n.Email == "" {
		js.log.Warn("Dropping notification without recipient", zap.String("protocolo", n.Protocolo))
		return nil
	}

	msg, err := mail.Render(n)
	if err != nil {
		return fmt.Errorf("failed to render email: %v: %w", err, asynq.SkipRetry)
	}
	if err := js.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", n.Protocolo, err)
	}

	js.log.Info("Notification sent", zap.String("tipo", string(n.Tipo)), zap.String("protocolo", n.Protocolo))
	return nil
}

// EnqueueEmail queues a notification for the worker.
func EnqueueEmail(ctx context.Context, client *asynq.Client, n model.Notificacao) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	task := asynq.NewTask(TypeEmailSend, payload,
		asynq.MaxRetry(emailMaxRetry),
		asynq.Queue(QueueNotificacoes),
	)
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue %s for %s: %w", n.Tipo, n.Protocolo, err)
	}
	return nil
}
