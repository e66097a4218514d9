// Package queue feeds task requests from NATS into the execution engine and
// publishes their outcomes back to the scheduler.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/seantiz/gantry/internal/engine"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/taskerr"
)

// QueueGroup is the NATS queue group shared by all workers, so each task
// request is delivered to exactly one of them.
const QueueGroup = "gantry-workers"

// Executor is the part of the engine the consumer drives.
type Executor interface {
	Prepare(ctx context.Context, req model.TaskRequest) (*model.TaskDescriptor, error)
	Execute(ctx context.Context, desc *model.TaskDescriptor) model.Outcome
	Cancel(taskID string) bool
}

type publisher interface {
	Publish(subject string, data []byte) error
}

var (
	_ Executor  = (*engine.Engine)(nil)
	_ publisher = (*nats.Conn)(nil)
)

// OutcomeMessage is published once per task request.
type OutcomeMessage struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	model.Outcome
}

// Consumer receives task requests on <prefix>.tasks and cancellations on
// <prefix>.cancel. At most maxWorkers tasks execute at once; further
// requests wait in the subscription until a slot frees up.
type Consumer struct {
	id     string
	conn   *nats.Conn
	pub    publisher
	exec   Executor
	prefix string
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Connect dials the NATS server at url with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("gantry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// NewConsumer creates a consumer on an established connection.
func NewConsumer(nc *nats.Conn, exec Executor, prefix string, maxWorkers int, logger *slog.Logger) *Consumer {
	c := newConsumer(nc, exec, prefix, maxWorkers, logger)
	c.conn = nc
	return c
}

func newConsumer(pub publisher, exec Executor, prefix string, maxWorkers int, logger *slog.Logger) *Consumer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	id := uuid.New().String()
	return &Consumer{
		id:     id,
		pub:    pub,
		exec:   exec,
		prefix: prefix,
		slots:  make(chan struct{}, maxWorkers),
		logger: logger.With("worker_id", id),
	}
}

// ID returns the worker instance ID reported in outcome messages.
func (c *Consumer) ID() string {
	return c.id
}

func (c *Consumer) subject(name string) string {
	return c.prefix + "." + name
}

// Run subscribes and processes messages until ctx is cancelled, then
// drains the subscriptions and waits for in-flight tasks.
func (c *Consumer) Run(ctx context.Context) error {
	tasks, err := c.conn.QueueSubscribe(c.subject("tasks"), QueueGroup, func(msg *nats.Msg) {
		c.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject("tasks"), err)
	}

	cancels, err := c.conn.Subscribe(c.subject("cancel"), c.handleCancel)
	if err != nil {
		tasks.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", c.subject("cancel"), err)
	}

	c.logger.Info("nats consumer started",
		"subject", c.subject("tasks"),
		"queue_group", QueueGroup,
		"max_workers", cap(c.slots),
	)

	<-ctx.Done()

	if err := tasks.Unsubscribe(); err != nil {
		c.logger.Warn("unsubscribe tasks", "error", err)
	}
	if err := cancels.Unsubscribe(); err != nil {
		c.logger.Warn("unsubscribe cancel", "error", err)
	}
	c.wg.Wait()
	c.logger.Info("nats consumer stopped")
	return nil
}

// dispatch blocks until a worker slot is free and then processes msg in the
// background. Blocking here holds back further deliveries on the
// subscription.
func (c *Consumer) dispatch(ctx context.Context, msg *nats.Msg) {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		messagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	c.wg.Go(func() {
		defer func() { <-c.slots }()
		c.process(ctx, msg)
	})
}

// process executes one task request and publishes its outcome.
func (c *Consumer) process(ctx context.Context, msg *nats.Msg) {
	taskID, out := c.handle(ctx, msg.Data)

	data, err := json.Marshal(OutcomeMessage{TaskID: taskID, WorkerID: c.id, Outcome: out})
	if err != nil {
		c.logger.Error("marshal outcome", "task_id", taskID, "error", err)
		return
	}

	subject := msg.Reply
	if subject == "" {
		subject = c.subject("outcomes")
	}
	if err := c.pub.Publish(subject, data); err != nil {
		c.logger.Error("publish outcome", "task_id", taskID, "subject", subject, "error", err)
	}
}

// handle decodes, prepares and executes a task request. Requests that
// cannot be decoded or prepared fail without running anything.
func (c *Consumer) handle(ctx context.Context, data []byte) (string, model.Outcome) {
	var req model.TaskRequest
	if err := json.Unmarshal(data, &req); err != nil {
		messagesTotal.WithLabelValues("invalid").Inc()
		c.logger.Warn("invalid task request", "error", err)
		return "", engine.OutcomeFor("", taskerr.Configuration("decode task request", "", err))
	}
	messagesTotal.WithLabelValues("task").Inc()

	desc, err := c.exec.Prepare(ctx, req)
	if err != nil {
		c.logger.Warn("task request rejected", "task_id", req.TaskID, "error", err)
		return req.TaskID, engine.OutcomeFor(req.TaskID, err)
	}

	c.logger.Info("task received", "task_id", desc.ID, "application_id", desc.ApplicationID)
	return desc.ID, c.exec.Execute(ctx, desc)
}

func (c *Consumer) handleCancel(msg *nats.Msg) {
	messagesTotal.WithLabelValues("cancel").Inc()
	taskID := strings.TrimSpace(string(msg.Data))
	if taskID == "" {
		return
	}
	if !c.exec.Cancel(taskID) {
		c.logger.Debug("cancel for task not running here", "task_id", taskID)
	}
}
