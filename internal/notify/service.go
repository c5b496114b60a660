package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"flowline/internal/config"
	"flowline/internal/events"
	"flowline/internal/logging"
	"flowline/internal/notifystore"
)

// ConfigSource is the read surface of the notification-config store.
type ConfigSource interface {
	GetByPipelineID(ctx context.Context, pipelineID int64) ([]notifystore.Config, error)
}

// Service is the trigger evaluator: it consumes execution events, loads
// the configs bound to the event's pipeline, evaluates each condition in
// the sandbox and dispatches the ones that hold.
type Service struct {
	configs     ConfigSource
	webhook     Sender
	slack       Sender
	fcm         Sender
	evalTimeout time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option overrides a Service dependency, used by tests.
type Option func(*Service)

// WithSenders replaces the channel senders.
func WithSenders(webhook, slack, fcm Sender) Option {
	return func(s *Service) {
		s.webhook = webhook
		s.slack = slack
		s.fcm = fcm
	}
}

// NewService builds the evaluator from configuration.
func NewService(cfg config.Notify, configs ConfigSource, logger *slog.Logger, opts ...Option) *Service {
	senderTimeout := time.Duration(cfg.SenderTimeoutSeconds) * time.Second
	svc := &Service{
		configs:     configs,
		webhook:     NewWebhookSender(senderTimeout),
		slack:       NewSlackSender(cfg.SlackBaseURL, senderTimeout),
		fcm:         NewFCMSender(cfg.FCMBaseURL, senderTimeout, nil),
		evalTimeout: time.Duration(cfg.EvalTimeoutMillis) * time.Millisecond,
		limiter:     rate.NewLimiter(rate.Limit(cfg.DispatchRatePerSec), cfg.DispatchBurst),
		logger:      logging.NewComponentLogger(logger, "notify"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// HandleExecution processes one execution event. Failure isolation is
// per config: a broken condition or a rejected dispatch never blocks the
// remaining configs for the same event. Redelivered events redeliver the
// same notifications; webhook receivers are expected to tolerate that.
func (s *Service) HandleExecution(ctx context.Context, body []byte) error {
	event, err := events.DecodeExecution(body)
	if err != nil {
		return err
	}

	configs, err := s.configs.GetByPipelineID(ctx, event.PipelineID)
	if err != nil {
		// Store unavailable is transient; the event stays unacked.
		return fmt.Errorf("load configs for pipeline %d: %w", event.PipelineID, err)
	}
	if len(configs) == 0 {
		s.logger.Debug("no configs for pipeline", logging.Pipeline(event.PipelineID))
		return nil
	}

	data, err := event.DataValue()
	if err != nil {
		return fmt.Errorf("%w: %v", events.ErrMalformed, err)
	}

	for _, cfg := range configs {
		s.evaluateAndDispatch(ctx, cfg, event, data)
	}
	return nil
}

func (s *Service) evaluateAndDispatch(ctx context.Context, cfg notifystore.Config, event events.PipelineExecutionEvent, data any) {
	matched, err := evalCondition(ctx, cfg.Condition, data, s.evalTimeout)
	if err != nil {
		s.logger.Warn("condition rejected, treating as not met",
			logging.Int64("configId", cfg.ID),
			logging.Pipeline(cfg.PipelineID),
			logging.Error(err))
		return
	}
	if !matched {
		s.logger.Debug("condition not met",
			logging.Int64("configId", cfg.ID),
			logging.Pipeline(cfg.PipelineID))
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Warn("dispatch aborted", logging.Int64("configId", cfg.ID), logging.Error(err))
		return
	}

	if err := s.dispatch(ctx, cfg, event); err != nil {
		s.logger.Error("notification dispatch failed",
			logging.Int64("configId", cfg.ID),
			logging.Pipeline(cfg.PipelineID),
			logging.String("type", string(cfg.Type)),
			logging.Error(err))
		return
	}

	s.logger.Info("notification dispatched",
		logging.Int64("configId", cfg.ID),
		logging.Pipeline(cfg.PipelineID),
		logging.String("type", string(cfg.Type)))
}

// dispatch selects the sender for the config's type. The switch is
// exhaustive over the known channel types.
func (s *Service) dispatch(ctx context.Context, cfg notifystore.Config, event events.PipelineExecutionEvent) error {
	switch cfg.Type {
	case notifystore.TypeWebhook:
		return s.webhook.Send(ctx, cfg, event)
	case notifystore.TypeSlack:
		return s.slack.Send(ctx, cfg, event)
	case notifystore.TypeFCM:
		return s.fcm.Send(ctx, cfg, event)
	default:
		return fmt.Errorf("unknown notification type %q", cfg.Type)
	}
}
