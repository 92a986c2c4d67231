package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devghori1264/agrox/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Publisher struct {
	nc      *nats.Conn
	url     string
	subject string
}

func NewPublisher(url, subject string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("agrox-ledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, url: url, subject: subject}, nil
}

// Conn exposes the shared connection so other clients can reuse it.
func (p *Publisher) Conn() *nats.Conn {
	return p.nc
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

// PublishEvent encodes ev as JSON onto the events subject.
func (p *Publisher) PublishEvent(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.Publish(ctx, p.subject, payload)
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
