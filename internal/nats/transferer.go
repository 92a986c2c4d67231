package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devghori1264/agrox/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Requester is the part of *nats.Conn the transferer needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// TransferRequest is sent to the settlement service.
type TransferRequest struct {
	To     models.Identity `json:"to"`
	Amount uint64          `json:"amount"`
}

// TransferReply is what the settlement service answers with.
type TransferReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

var ErrTransferRejected = errors.New("transfer rejected")

// Transferer settles reward claims over NATS request/reply. Consecutive
// failures open a circuit breaker so claims fail fast while the settlement
// service is down.
type Transferer struct {
	req     Requester
	subject string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewTransferer(req Requester, subject string, timeout time.Duration, log *zap.Logger) *Transferer {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "reward-transfer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// a rejected claim is the settlement service working, not failing
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrTransferRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Transferer{req: req, subject: subject, timeout: timeout, cb: cb, log: log}
}

func (t *Transferer) TransferTokens(ctx context.Context, to models.Identity, amount uint64) error {
	payload, err := json.Marshal(TransferRequest{To: to, Amount: amount})
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}

	_, err = t.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		msg, err := t.req.RequestWithContext(ctx, t.subject, payload)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", t.subject, err)
		}
		var reply TransferReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return nil, fmt.Errorf("decode transfer reply: %w", err)
		}
		if !reply.OK {
			return nil, fmt.Errorf("%w: %s", ErrTransferRejected, reply.Error)
		}
		return nil, nil
	})
	if err != nil {
		t.log.Error("reward transfer failed",
			zap.String("to", string(to)),
			zap.Uint64("amount", amount),
			zap.Error(err))
		return err
	}
	t.log.Info("reward transfer settled",
		zap.String("to", string(to)),
		zap.Uint64("amount", amount))
	return nil
}
