package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"leggedarb/internal/clob"
	"leggedarb/internal/models"
	"leggedarb/internal/quotes"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func level(price, size string) clob.Level {
	return clob.Level{Price: d(price), Size: d(size)}
}

func pairWith(yesBids, yesAsks, noBids, noAsks []clob.Level) quotes.Pair {
	return quotes.Pair{
		Yes:     models.Quote{TokenID: "yes-token"},
		No:      models.Quote{TokenID: "no-token"},
		YesBook: &quotes.OrderBookView{Bids: yesBids, Asks: yesAsks},
		NoBook:  &quotes.OrderBookView{Bids: noBids, Asks: noAsks},
	}
}

func TestValidateOrder(t *testing.T) {
	if err := validateOrder(d("0.47"), d("10")); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
	for _, bad := range []struct{ price, size string }{
		{"0.475", "10"}, // off-grid
		{"0", "10"},
		{"1.00", "10"},
		{"0.47", "0"},
		{"0.47", "-1"},
	} {
		err := validateOrder(d(bad.price), d(bad.size))
		if !errors.Is(err, ErrRejectedOrder) {
			t.Fatalf("price=%s size=%s: got %v", bad.price, bad.size, err)
		}
	}
}

func TestClampPrice(t *testing.T) {
	if got := ClampPrice(d("0.4271"), DirectionBuy); !got.Equal(d("0.42")) {
		t.Fatalf("buy clamp = %s", got)
	}
	if got := ClampPrice(d("0.4271"), DirectionSell); !got.Equal(d("0.43")) {
		t.Fatalf("sell clamp = %s", got)
	}
	if got := ClampPrice(d("-0.2"), DirectionBuy); !got.Equal(d("0.01")) {
		t.Fatalf("floor clamp = %s", got)
	}
	if got := ClampPrice(d("1.3"), DirectionSell); !got.Equal(d("0.99")) {
		t.Fatalf("ceiling clamp = %s", got)
	}
}

func TestPaperRestingFillsWhenAskCrosses(t *testing.T) {
	port := NewPaperPort(nil, false, 0, 1)
	port.SetBooks(pairWith(
		[]clob.Level{level("0.40", "100")}, []clob.Level{level("0.50", "100")},
		nil, nil,
	))

	id, err := port.PlaceResting(context.Background(), "yes-token", d("0.45"), d("20"))
	if err != nil {
		t.Fatalf("PlaceResting: %v", err)
	}
	st, err := port.Poll(context.Background(), id)
	if err != nil || st.Status != StatusOpen {
		t.Fatalf("order should rest below the ask: %+v err=%v", st, err)
	}

	// Ask drops through the bid price.
	port.SetBooks(pairWith(
		[]clob.Level{level("0.40", "100")}, []clob.Level{level("0.43", "50")},
		nil, nil,
	))
	st, err = port.Poll(context.Background(), id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.Status != StatusMatched || !st.Matched.Size.Equal(d("20")) {
		t.Fatalf("order should fill: %+v", st)
	}
	if !st.Matched.AvgPrice.Equal(d("0.43")) {
		t.Fatalf("fill should improve to the ask, got %s", st.Matched.AvgPrice)
	}
}

func TestPaperAggressiveWalksDepth(t *testing.T) {
	port := NewPaperPort(nil, false, 0, 1)
	port.SetBooks(pairWith(
		nil, nil,
		nil, []clob.Level{level("0.58", "5"), level("0.55", "10"), level("0.62", "100")},
	))

	// Buy 12 limited at 0.60: 10 @ 0.55 then 2 @ 0.58, skipping 0.62.
	fill, err := port.PlaceAggressive(context.Background(), "no-token", DirectionBuy, d("0.60"), d("12"))
	if err != nil {
		t.Fatalf("PlaceAggressive: %v", err)
	}
	if !fill.Size.Equal(d("12")) {
		t.Fatalf("size = %s", fill.Size)
	}
	want := d("0.55").Mul(d("10")).Add(d("0.58").Mul(d("2"))).Div(d("12"))
	if !fill.AvgPrice.Equal(want) {
		t.Fatalf("avg = %s want %s", fill.AvgPrice, want)
	}

	// Nothing inside the limit: fill-and-kill returns a zero fill.
	fill, err = port.PlaceAggressive(context.Background(), "no-token", DirectionBuy, d("0.50"), d("5"))
	if err != nil {
		t.Fatalf("PlaceAggressive: %v", err)
	}
	if !fill.IsZero() {
		t.Fatalf("expected zero fill, got %+v", fill)
	}
}

func TestPaperAggressiveSellHitsBids(t *testing.T) {
	port := NewPaperPort(nil, false, 0, 1)
	port.SetBooks(pairWith(
		[]clob.Level{level("0.44", "8"), level("0.46", "4")}, nil,
		nil, nil,
	))

	fill, err := port.PlaceAggressive(context.Background(), "yes-token", DirectionSell, d("0.40"), d("10"))
	if err != nil {
		t.Fatalf("PlaceAggressive: %v", err)
	}
	// Best bid first: 4 @ 0.46 then 6 @ 0.44.
	if !fill.Size.Equal(d("10")) {
		t.Fatalf("size = %s", fill.Size)
	}
	want := d("0.46").Mul(d("4")).Add(d("0.44").Mul(d("6"))).Div(d("10"))
	if !fill.AvgPrice.Equal(want) {
		t.Fatalf("avg = %s want %s", fill.AvgPrice, want)
	}
}

func TestPaperCancelAndCancelAll(t *testing.T) {
	port := NewPaperPort(nil, false, 0, 1)
	port.SetBooks(pairWith(
		nil, []clob.Level{level("0.90", "10")},
		nil, []clob.Level{level("0.90", "10")},
	))

	id1, _ := port.PlaceResting(context.Background(), "yes-token", d("0.40"), d("10"))
	id2, _ := port.PlaceResting(context.Background(), "no-token", d("0.40"), d("10"))

	if err := port.Cancel(context.Background(), id1); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st, _ := port.Poll(context.Background(), id1)
	if st.Status != StatusCanceled {
		t.Fatalf("status = %s", st.Status)
	}
	if err := port.Cancel(context.Background(), "nope"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("got %v", err)
	}

	if err := port.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	st, _ = port.Poll(context.Background(), id2)
	if st.Status != StatusCanceled {
		t.Fatalf("status = %s", st.Status)
	}
}

func TestPaperProbabilisticPassiveFill(t *testing.T) {
	// Probability 1 makes the passive fill deterministic.
	port := NewPaperPort(nil, true, 1, 42)
	port.SetBooks(pairWith(
		[]clob.Level{level("0.40", "100")}, []clob.Level{level("0.50", "100")},
		nil, nil,
	))
	id, err := port.PlaceResting(context.Background(), "yes-token", d("0.42"), d("10"))
	if err != nil {
		t.Fatalf("PlaceResting: %v", err)
	}
	st, _ := port.Poll(context.Background(), id)
	if st.Status != StatusMatched || !st.Matched.AvgPrice.Equal(d("0.42")) {
		t.Fatalf("expected passive fill at the resting price: %+v", st)
	}
}
