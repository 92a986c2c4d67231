package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/devghori1264/agrox/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
)

type fakeRequester struct {
	calls int
	last  TransferRequest
	reply func() (*nats.Msg, error)
}

func (f *fakeRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.calls++
	if err := json.Unmarshal(data, &f.last); err != nil {
		return nil, err
	}
	return f.reply()
}

func replyMsg(t *testing.T, r TransferReply) *nats.Msg {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	return &nats.Msg{Data: b}
}

func TestTransfererSettles(t *testing.T) {
	req := &fakeRequester{reply: func() (*nats.Msg, error) { return replyMsg(t, TransferReply{OK: true}), nil }}
	tr := NewTransferer(req, "agrox.transfers", time.Second, nil)

	if err := tr.TransferTokens(context.Background(), "alice", 12); err != nil {
		t.Fatalf("TransferTokens() error = %v", err)
	}
	if req.last.To != models.Identity("alice") || req.last.Amount != 12 {
		t.Fatalf("unexpected request %+v", req.last)
	}
}

func TestTransfererRejected(t *testing.T) {
	req := &fakeRequester{reply: func() (*nats.Msg, error) {
		return replyMsg(t, TransferReply{Error: "unknown account"}), nil
	}}
	tr := NewTransferer(req, "agrox.transfers", time.Second, nil)

	err := tr.TransferTokens(context.Background(), "alice", 1)
	if !errors.Is(err, ErrTransferRejected) {
		t.Fatalf("TransferTokens() error = %v, want ErrTransferRejected", err)
	}
}

func TestTransfererRejectionsKeepBreakerClosed(t *testing.T) {
	req := &fakeRequester{reply: func() (*nats.Msg, error) {
		return replyMsg(t, TransferReply{Error: "unknown account"}), nil
	}}
	tr := NewTransferer(req, "agrox.transfers", time.Second, nil)

	for i := 0; i < 5; i++ {
		if err := tr.TransferTokens(context.Background(), "mallory", 1); !errors.Is(err, ErrTransferRejected) {
			t.Fatalf("attempt %d error = %v, want ErrTransferRejected", i, err)
		}
	}
	if st := tr.cb.State(); st != gobreaker.StateClosed {
		t.Fatalf("breaker state = %s, want closed", st)
	}

	req.reply = func() (*nats.Msg, error) { return replyMsg(t, TransferReply{OK: true}), nil }
	if err := tr.TransferTokens(context.Background(), "alice", 12); err != nil {
		t.Fatalf("TransferTokens() error = %v", err)
	}
	if req.calls != 6 {
		t.Fatalf("requests sent = %d, want 6", req.calls)
	}
}

func TestTransfererBreakerOpens(t *testing.T) {
	req := &fakeRequester{reply: func() (*nats.Msg, error) { return nil, nats.ErrNoResponders }}
	tr := NewTransferer(req, "agrox.transfers", time.Second, nil)

	for i := 0; i < 3; i++ {
		if err := tr.TransferTokens(context.Background(), "alice", 1); !errors.Is(err, nats.ErrNoResponders) {
			t.Fatalf("attempt %d error = %v, want ErrNoResponders", i, err)
		}
	}
	err := tr.TransferTokens(context.Background(), "alice", 1)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("TransferTokens() error = %v, want ErrOpenState", err)
	}
	if req.calls != 3 {
		t.Fatalf("requests sent = %d, want 3", req.calls)
	}
}

func TestPublisherNotConnected(t *testing.T) {
	p := &Publisher{subject: "agrox.events"}
	err := p.PublishEvent(context.Background(), models.Event{Type: models.EventDataUploaded})
	if err == nil {
		t.Fatal("expected error from unconnected publisher")
	}
}
