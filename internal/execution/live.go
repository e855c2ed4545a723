package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leggedarb/internal/clob"
	"leggedarb/internal/models"
)

type venueClient interface {
	PlaceOrder(ctx context.Context, tokenID, side string, price, size decimal.Decimal, orderType string) (*clob.PlaceOrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*clob.OrderInfo, error)
}

// LivePort submits signed orders through the CLOB client. Transient venue
// failures are retried with bounded backoff on cancel and poll only; a failed
// placement is surfaced as-is because the quote that justified it may already
// be stale.
type LivePort struct {
	mu sync.Mutex

	log     *zap.Logger
	client  venueClient
	open    map[string]string // orderID -> tokenID
	sleep   func(ctx context.Context, d time.Duration) error
	retries int
	baseOff time.Duration
}

func NewLivePort(log *zap.Logger, client venueClient) *LivePort {
	return &LivePort{
		log:     log,
		client:  client,
		open:    make(map[string]string),
		sleep:   sleepCtx,
		retries: 3,
		baseOff: 150 * time.Millisecond,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// classify maps transport and API errors onto the port taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *clob.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 429 || apiErr.Status >= 500 {
			return fmt.Errorf("%w: %v", ErrVenueUnavailable, err)
		}
		if apiErr.Status == 404 {
			return fmt.Errorf("%w: %v", ErrUnknownOrder, err)
		}
		return fmt.Errorf("%w: %v", ErrRejectedOrder, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	// Anything else at this boundary is a transport failure.
	return fmt.Errorf("%w: %v", ErrVenueUnavailable, err)
}

// withRetry runs fn, retrying only venue-unavailable failures.
func (p *LivePort) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := p.baseOff
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			if p.log != nil {
				p.log.Warn("retrying venue call",
					zap.String("op", op),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
			if serr := p.sleep(ctx, delay); serr != nil {
				return serr
			}
			delay *= 2
		}
		err = classify(fn())
		if err == nil || !errors.Is(err, ErrVenueUnavailable) {
			return err
		}
	}
	return err
}

func (p *LivePort) PlaceResting(ctx context.Context, tokenID string, price, size decimal.Decimal) (string, error) {
	if err := validateOrder(price, size); err != nil {
		return "", err
	}
	resp, err := p.client.PlaceOrder(ctx, tokenID, string(DirectionBuy), price, size, "GTC")
	if err != nil {
		return "", classify(err)
	}
	if !resp.Success || resp.OrderID == "" {
		return "", fmt.Errorf("%w: %s", ErrRejectedOrder, resp.Error)
	}
	p.mu.Lock()
	p.open[resp.OrderID] = tokenID
	p.mu.Unlock()
	return resp.OrderID, nil
}

func (p *LivePort) PlaceAggressive(ctx context.Context, tokenID string, dir Direction, limit, size decimal.Decimal) (models.Fill, error) {
	if err := validateOrder(limit, size); err != nil {
		return models.Fill{}, err
	}
	resp, err := p.client.PlaceOrder(ctx, tokenID, string(dir), limit, size, "FAK")
	if err != nil {
		return models.Fill{}, classify(err)
	}
	if !resp.Success {
		return models.Fill{}, fmt.Errorf("%w: %s", ErrRejectedOrder, resp.Error)
	}
	if resp.OrderID == "" {
		return models.Fill{}, nil
	}
	// FAK settles immediately; poll once (with retry) for the matched size.
	state, err := p.pollOrder(ctx, resp.OrderID, tokenID)
	if err != nil {
		if errors.Is(err, ErrUnknownOrder) {
			// Killed with nothing matched; the venue forgets it.
			return models.Fill{}, nil
		}
		return models.Fill{}, err
	}
	return state.Matched, nil
}

func (p *LivePort) Cancel(ctx context.Context, orderID string) error {
	err := p.withRetry(ctx, "cancel", func() error {
		return p.client.CancelOrder(ctx, orderID)
	})
	if err == nil || errors.Is(err, ErrUnknownOrder) {
		p.mu.Lock()
		delete(p.open, orderID)
		p.mu.Unlock()
		if errors.Is(err, ErrUnknownOrder) {
			return nil
		}
	}
	return err
}

func (p *LivePort) Poll(ctx context.Context, orderID string) (OrderState, error) {
	p.mu.Lock()
	tokenID := p.open[orderID]
	p.mu.Unlock()
	return p.pollOrder(ctx, orderID, tokenID)
}

func (p *LivePort) pollOrder(ctx context.Context, orderID, tokenID string) (OrderState, error) {
	var info *clob.OrderInfo
	err := p.withRetry(ctx, "poll", func() error {
		var gerr error
		info, gerr = p.client.GetOrder(ctx, orderID)
		return gerr
	})
	if err != nil {
		return OrderState{}, err
	}
	size, avg, err := info.Matched()
	if err != nil {
		return OrderState{}, fmt.Errorf("order %s: %w", orderID, err)
	}
	state := OrderState{
		ID:      orderID,
		TokenID: tokenID,
		Status:  mapStatus(info.Status),
		Matched: models.Fill{Size: size, AvgPrice: avg},
	}
	if state.Status != StatusOpen {
		p.mu.Lock()
		delete(p.open, orderID)
		p.mu.Unlock()
	}
	return state, nil
}

func mapStatus(s string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MATCHED", "FILLED":
		return StatusMatched
	case "CANCELED", "CANCELLED", "KILLED", "EXPIRED":
		return StatusCanceled
	default:
		return StatusOpen
	}
}

func (p *LivePort) CancelAll(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.open))
	for id := range p.open {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := p.Cancel(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if p.log != nil {
				p.log.Error("cancel failed during cancel-all",
					zap.String("order_id", id),
					zap.Error(err))
			}
		}
	}
	return firstErr
}
