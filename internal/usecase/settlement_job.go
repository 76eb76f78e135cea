package usecase

import (
	"context"
	"fmt"
	"time"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	xlogger "RFQHub/pkg/logger"
	"RFQHub/pkg/queue"
)

// SettlementJob consumes trade settlement messages: it executes the
// trade through the settlement client and records the terminal state.
type SettlementJob struct {
	trades     drepo.TradeRepository
	rfqs       drepo.RfqRepository
	settlement drepo.SettlementClient
	logger     *xlogger.Logger
	now        func() time.Time
}

func NewSettlementJob(trades drepo.TradeRepository, rfqs drepo.RfqRepository, settlement drepo.SettlementClient, l *xlogger.Logger) *SettlementJob {
	return &SettlementJob{trades: trades, rfqs: rfqs, settlement: settlement, logger: l, now: time.Now}
}

func (j *SettlementJob) Name() string { return "settle_trade" }
func (j *SettlementJob) Type() string { return settleTradeMsgType }

func (j *SettlementJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[SettlePayload](payload)
	if err != nil {
		return fmt.Errorf("settlement payload: %w", err)
	}

	trade, err := j.trades.Get(ctx, p.TradeID)
	if err != nil {
		return fmt.Errorf("load trade %s: %w", p.TradeID, err)
	}
	if trade.Status != models.TradePending {
		// already settled or failed, nothing to do
		return nil
	}

	txRef, err := j.settlement.Settle(ctx, trade)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("settlement failed",
				xlogger.String("trade_id", trade.ID),
				xlogger.Error(err))
		}
		_ = j.trades.MarkFailed(ctx, trade.ID, err.Error())
		_ = j.rfqs.UpdateStatus(ctx, trade.RfqID, models.RfqFailed, "settlement failed")
		return err
	}

	settledAt := j.now()
	if err := j.trades.MarkSettled(ctx, trade.ID, txRef, settledAt); err != nil {
		return fmt.Errorf("mark settled: %w", err)
	}
	if err := j.rfqs.UpdateStatus(ctx, trade.RfqID, models.RfqCompleted, ""); err != nil {
		return fmt.Errorf("complete rfq: %w", err)
	}

	if j.logger != nil {
		j.logger.Info("trade settled",
			xlogger.String("trade_id", trade.ID),
			xlogger.String("tx_ref", txRef))
	}
	return nil
}

var _ queue.Job = (*SettlementJob)(nil)
