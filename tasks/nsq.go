package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"
)

// nsqLogger routes go-nsq's log lines through zap.
type nsqLogger struct {
	log *zap.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	l.log.Debug(strings.TrimSpace(s))
	return nil
}

// NSQDispatcher publishes tasks to an nsqd topic for a Worker to execute.
type NSQDispatcher struct {
	producer *nsq.Producer
	topic    string
}

func NewNSQDispatcher(addr, topic string, log *zap.Logger) (*NSQDispatcher, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLogger(nsqLogger{log.Named("nsq")}, nsq.LogLevelWarning)
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("nsqd %s: %w", addr, err)
	}
	return &NSQDispatcher{producer: p, topic: topic}, nil
}

// Enqueue publishes the task; it returns once nsqd acknowledged it.
func (d *NSQDispatcher) Enqueue(ctx context.Context, name string, args any) (string, error) {
	t, err := newTask(uuid.NewString(), name, args, time.Now())
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	if err := d.producer.Publish(d.topic, body); err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	return t.ID, nil
}

func (d *NSQDispatcher) Stop() {
	d.producer.Stop()
}

// acker is the part of *nsq.Message a Worker responds through.
type acker interface {
	Finish()
	RequeueWithoutBackoff(delay time.Duration)
}

// Worker consumes tasks from nsq and runs them, requeueing failures after a fixed delay.
type Worker struct {
	registry *Registry
	policy   RetryPolicy
	log      *zap.Logger
	consumer *nsq.Consumer
}

func NewWorker(registry *Registry, policy RetryPolicy, topic, channel string, log *zap.Logger) (*Worker, error) {
	cfg := nsq.NewConfig()
	// attempts are counted by the worker itself, nsq must not drop messages first
	cfg.MaxAttempts = 0
	c, err := nsq.NewConsumer(topic, channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	c.SetLogger(nsqLogger{log.Named("nsq")}, nsq.LogLevelWarning)
	w := &Worker{registry: registry, policy: policy, log: log, consumer: c}
	c.AddHandler(w)
	return w, nil
}

// Start connects to nsqlookupd when given, otherwise directly to nsqd.
func (w *Worker) Start(nsqdAddr, lookupdAddr string) error {
	if lookupdAddr != "" {
		return w.consumer.ConnectToNSQLookupd(lookupdAddr)
	}
	return w.consumer.ConnectToNSQD(nsqdAddr)
}

// Stop drains in-flight messages and waits for the consumer to exit.
func (w *Worker) Stop() {
	w.consumer.Stop()
	<-w.consumer.StopChan
}

// HandleMessage implements nsq.Handler.
func (w *Worker) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	w.process(m.Body, m.Attempts, m)
	return nil
}

func (w *Worker) process(body []byte, attempts uint16, ack acker) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		w.log.Warn("dropping malformed task", zap.Error(err))
		ack.Finish()
		return
	}
	err := w.registry.Run(context.Background(), t)
	switch {
	case err == nil:
		ack.Finish()
	case errors.Is(err, ErrUnknownTask) || int(attempts) > w.policy.MaxRetries:
		w.log.Warn("task given up",
			zap.String("task", t.Name), zap.String("id", t.ID),
			zap.Uint16("attempts", attempts), zap.Error(err))
		ack.Finish()
	default:
		w.log.Info("task failed, requeued",
			zap.String("task", t.Name), zap.String("id", t.ID),
			zap.Uint16("attempt", attempts), zap.Duration("delay", w.policy.RetryDelay), zap.Error(err))
		ack.RequeueWithoutBackoff(w.policy.RetryDelay)
	}
}
