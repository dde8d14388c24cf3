package service

import (
	"context"
	"errors"

	"ticket_desk/internal/clock"
	"ticket_desk/internal/models"
	"ticket_desk/internal/repository"

	"github.com/google/uuid"
)

// OfflineCheckProvider validates codes against the downloaded ticket
// cache and queues successful redemptions for upload.
type OfflineCheckProvider struct {
	tickets repository.TicketRepo
	clock   clock.Clock
}

func NewOfflineCheckProvider(tickets repository.TicketRepo, clk clock.Clock) *OfflineCheckProvider {
	if clk == nil {
		clk = clock.Real()
	}
	return &OfflineCheckProvider{tickets: tickets, clock: clk}
}

func (p *OfflineCheckProvider) Check(ctx context.Context, code string) (models.CheckResult, error) {
	t, err := p.tickets.GetBySecret(ctx, code)
	if err != nil {
		return models.CheckResult{}, err
	}
	if t == nil {
		return models.CheckResult{Type: models.ResultInvalid}, nil
	}

	res := models.CheckResult{
		Ticket:           t.Item,
		Variation:        t.Variation,
		AttendeeName:     t.AttendeeName,
		OrderCode:        t.OrderCode,
		RequireAttention: t.RequireAttention,
	}
	switch {
	case !t.Paid:
		res.Type = models.ResultUnpaid
		return res, nil
	case t.Redeemed:
		res.Type = models.ResultUsed
		return res, nil
	}

	err = p.tickets.Redeem(ctx, models.QueuedCheckin{
		Nonce:    uuid.NewString(),
		Secret:   t.Secret,
		DateTime: p.clock.Now().UTC(),
	})
	switch {
	case errors.Is(err, repository.ErrAlreadyRedeemed):
		res.Type = models.ResultUsed
	case err != nil:
		return models.CheckResult{}, err
	default:
		res.Type = models.ResultValid
	}
	return res, nil
}

// AsyncMode reports whether offline scanning is switched on.
type AsyncMode interface {
	AsyncModeEnabled() bool
}

// ModeSwitchProvider picks the offline or online provider per scan.
type ModeSwitchProvider struct {
	mode    AsyncMode
	online  CheckProvider
	offline CheckProvider
}

func NewModeSwitchProvider(mode AsyncMode, online, offline CheckProvider) *ModeSwitchProvider {
	return &ModeSwitchProvider{mode: mode, online: online, offline: offline}
}

func (p *ModeSwitchProvider) Check(ctx context.Context, code string) (models.CheckResult, error) {
	if p.mode.AsyncModeEnabled() {
		return p.offline.Check(ctx, code)
	}
	return p.online.Check(ctx, code)
}
