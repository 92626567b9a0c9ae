package service

import (
	"context"

	"esic/internal/jobs"
	"esic/internal/model"

	"github.com/hibiken/asynq"
)

// AsynqNotifier implements Notifier by queueing an e-mail task
type AsynqNotifier struct {
	client *asynq.Client
}

func NewAsynqNotifier(client *asynq.Client) *AsynqNotifier {
	return &AsynqNotifier{client: client}
}

func (n *AsynqNotifier) Send(ctx context.Context, notificacao model.Notificacao) error {
	return jobs.EnqueueEmail(ctx, n.client, notificacao)
}
