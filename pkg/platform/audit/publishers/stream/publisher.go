// Package stream tees audit entries onto a message stream after they are
// stored.
//
// The primary sink stays the system of record: its result is what Append
// returns. Stream delivery is best-effort. While the stream is unhealthy a
// circuit breaker short-circuits publishing and entries wait in a bounded
// ring buffer that is replayed once a probe succeeds.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"procflow/pkg/platform/audit"
	"procflow/pkg/platform/circuit"
)

// Producer writes one keyed message to the stream.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// replayBatch bounds how many buffered entries are flushed per healthy Append.
const replayBatch = 100

type Publisher struct {
	primary  audit.Sink
	producer Producer
	breaker  *circuit.Breaker
	buffer   *RingBuffer
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(n)
	}
}

func New(primary audit.Sink, producer Producer, opts ...Option) *Publisher {
	p := &Publisher{
		primary:  primary,
		producer: producer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = circuit.New("audit-stream", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))
	}
	if p.buffer == nil {
		p.buffer = NewRingBuffer(0)
	}
	return p
}

// message is the JSON document published per entry.
type message struct {
	ID            string    `json:"id"`
	OperationType string    `json:"operation_type"`
	OperationName string    `json:"operation_name"`
	Module        string    `json:"business_module"`
	TargetType    string    `json:"target_type,omitempty"`
	TargetID      string    `json:"target_id,omitempty"`
	TargetName    string    `json:"target_name,omitempty"`
	ActorID       string    `json:"actor_id,omitempty"`
	ActorName     string    `json:"actor_name,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	ClientDevice  string    `json:"client_device,omitempty"`
	RequestMethod string    `json:"request_method,omitempty"`
	RequestPath   string    `json:"request_path,omitempty"`
	StartTime     time.Time `json:"start_time"`
	DurationMs    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	RiskLevel     string    `json:"risk_level"`
	TraceID       string    `json:"trace_id,omitempty"`
	ServerName    string    `json:"server_name,omitempty"`
}

// encode omits the request/response payloads: consumers receive the event,
// the sink keeps the detail.
func encode(e audit.Entry) ([]byte, error) {
	return json.Marshal(message{
		ID:            e.ID.String(),
		OperationType: string(e.OperationType),
		OperationName: e.OperationName,
		Module:        string(e.Module),
		TargetType:    e.TargetType,
		TargetID:      e.TargetID,
		TargetName:    e.TargetName,
		ActorID:       e.ActorID,
		ActorName:     e.ActorName,
		IPAddress:     e.IPAddress,
		ClientDevice:  e.ClientDevice,
		RequestMethod: e.RequestMethod,
		RequestPath:   e.RequestPath,
		StartTime:     e.StartTime,
		DurationMs:    e.DurationMs,
		Status:        string(e.Status),
		ErrorMessage:  e.ErrorMessage,
		RiskLevel:     string(e.RiskLevel),
		TraceID:       e.TraceID,
		ServerName:    e.ServerName,
	})
}

// Append stores the entry in the primary sink, then publishes it.
func (p *Publisher) Append(ctx context.Context, entry audit.Entry) error {
	entry.Normalize()
	if err := p.primary.Append(ctx, entry); err != nil {
		return err
	}
	p.publish(ctx, entry)
	return nil
}

func (p *Publisher) publish(ctx context.Context, entry audit.Entry) {
	if !p.breaker.Allow() {
		p.buffer.Enqueue(entry)
		if p.metrics != nil {
			p.metrics.IncBuffered()
		}
		return
	}

	if err := p.send(ctx, entry); err != nil {
		p.buffer.Enqueue(entry)
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.logger.WarnContext(ctx, "audit stream circuit opened", "error", err)
			p.setOpen(true)
		}
		if p.metrics != nil {
			p.metrics.IncPublishFailures()
		}
		return
	}

	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.InfoContext(ctx, "audit stream circuit closed", "buffered", p.buffer.Len())
		p.setOpen(false)
	}
	if p.metrics != nil {
		p.metrics.IncPublished()
	}
	p.replay(ctx)
}

func (p *Publisher) replay(ctx context.Context) {
	pending := p.buffer.DequeueBatch(replayBatch)
	for i, e := range pending {
		if err := p.send(ctx, e); err != nil {
			p.buffer.Requeue(pending[i:])
			p.breaker.RecordFailure()
			return
		}
		if p.metrics != nil {
			p.metrics.IncPublished()
		}
	}
}

func (p *Publisher) send(ctx context.Context, entry audit.Entry) error {
	value, err := encode(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return p.producer.Produce(ctx, []byte(entry.ID.String()), value)
}

func (p *Publisher) setOpen(open bool) {
	if p.metrics == nil {
		return
	}
	if open {
		p.metrics.CircuitState.Set(1)
	} else {
		p.metrics.CircuitState.Set(0)
	}
}

// Pending returns the number of entries waiting for the stream.
func (p *Publisher) Pending() int { return p.buffer.Len() }

// Dropped returns how many buffered entries were discarded for space.
func (p *Publisher) Dropped() int64 { return p.buffer.Dropped() }

func (p *Publisher) Query(ctx context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error) {
	return p.primary.Query(ctx, filter, page)
}

func (p *Publisher) Aggregate(ctx context.Context, by audit.GroupBy, start, end time.Time) ([]audit.Count, error) {
	return p.primary.Aggregate(ctx, by, start, end)
}

func (p *Publisher) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return p.primary.DeleteBefore(ctx, cutoff)
}

// Analytics exposes the primary sink's analytics, if it has any.
func (p *Publisher) Analytics() (audit.AnalyticsSink, bool) {
	a, ok := p.primary.(audit.AnalyticsSink)
	return a, ok
}
