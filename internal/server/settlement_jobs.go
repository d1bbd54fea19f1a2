package server

import (
	"context"
	"time"

	"fenrir-perp/internal/common"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// settleOpenJob and settleCloseJob are the two job shapes the settlement
// worker pool drains; runSettlementJob type-switches on whichever arrives.
type settleOpenJob struct {
	owner      string
	market     string
	size       common.Quantity
	entryPrice common.Price
}

type settleCloseJob struct {
	owner     string
	market    string
	exitPrice common.Price
}

// submitSettlement hands a job to the shared pool when one is configured,
// falling back to a detached goroutine otherwise (e.g. in tests that wire a
// Settlement client without a pool).
func (h *handlers) submitSettlement(job any) {
	if h.deps.Settlement == nil {
		return
	}
	if h.deps.SettlePool != nil && h.tomb != nil {
		h.deps.SettlePool.Submit(h.tomb, job)
		return
	}
	go func() {
		_ = h.runSettlementJob(nil, job)
	}()
}

// runSettlementJob is the worker.JobFunc the settlement pool runs; t may be
// nil when called from the goroutine fallback path.
func (h *handlers) runSettlementJob(t *tomb.Tomb, job any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch j := job.(type) {
	case settleOpenJob:
		if _, err := h.deps.Settlement.SettleOpen(ctx, j.owner, j.market, j.size, j.entryPrice); err != nil {
			log.Warn().Err(err).Str("owner", j.owner).Str("market", j.market).Msg("settlement open notification failed")
			return err
		}
	case settleCloseJob:
		if _, err := h.deps.Settlement.SettleClose(ctx, j.owner, j.market, j.exitPrice); err != nil {
			log.Warn().Err(err).Str("owner", j.owner).Str("market", j.market).Msg("settlement close notification failed")
			return err
		}
	}
	return nil
}
