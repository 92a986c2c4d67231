package ledger

import (
	"context"

	"github.com/devghori1264/agrox/internal/models"
	"go.uber.org/zap"
)

// Transferer moves claimed reward tokens to the claimant's external balance.
type Transferer interface {
	TransferTokens(ctx context.Context, to models.Identity, amount uint64) error
}

// TransferFunc adapts a plain function to Transferer.
type TransferFunc func(ctx context.Context, to models.Identity, amount uint64) error

func (f TransferFunc) TransferTokens(ctx context.Context, to models.Identity, amount uint64) error {
	return f(ctx, to, amount)
}

// LogTransferer only records the claim. Used when no settlement backend is
// configured.
type LogTransferer struct {
	log *zap.Logger
}

func NewLogTransferer(log *zap.Logger) *LogTransferer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogTransferer{log: log}
}

func (t *LogTransferer) TransferTokens(_ context.Context, to models.Identity, amount uint64) error {
	t.log.Info("reward claim recorded",
		zap.String("to", string(to)),
		zap.Uint64("amount", amount))
	return nil
}
