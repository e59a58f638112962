package daemon

import (
	"context"
	"errors"

	"github.com/pokulabs/poku/internal/status"
	intsync "github.com/pokulabs/poku/internal/sync"
	"github.com/pokulabs/poku/internal/twilio"
	"go.uber.org/zap"
)

// connector drives the daemon from BOOTING to READY: it verifies the
// Twilio credentials, then backfills the mirror.
type connector struct {
	twilio     *twilio.Client
	reconciler *intsync.Reconciler
	machine    *status.Machine
	number     string
	pages      int
	logger     *zap.Logger
}

func (c *connector) run(ctx context.Context) {
	if c.twilio == nil {
		c.logger.Info("no twilio credentials configured")
		_ = c.machine.TransitionWithReason(status.CredentialsRequired, "set TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
		return
	}

	_ = c.machine.Transition(status.Connecting)
	acct, err := c.twilio.FetchAccount(ctx)
	if err != nil {
		var apiErr *twilio.APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			c.logger.Warn("twilio rejected credentials", zap.Error(err))
			_ = c.machine.TransitionWithReason(status.CredentialsRequired, apiErr.Message)
			return
		}
		c.logger.Warn("twilio unreachable", zap.Error(err))
		_ = c.machine.TransitionWithReason(status.Degraded, err.Error())
		return
	}
	c.logger.Info("twilio account verified",
		zap.String("account", acct.SID),
		zap.String("status", acct.Status))

	if c.number == "" || c.reconciler == nil {
		_ = c.machine.Transition(status.Ready)
		return
	}

	_ = c.machine.Transition(status.Backfilling)
	n, err := c.reconciler.Backfill(ctx, c.number, c.pages)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("backfill failed", zap.Int("messages", n), zap.Error(err))
		_ = c.machine.TransitionWithReason(status.Degraded, "backfill: "+err.Error())
		return
	}
	_ = c.machine.Transition(status.Ready)
}
