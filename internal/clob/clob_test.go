package clob

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLevelUnmarshalBothForms(t *testing.T) {
	var arr Level
	if err := json.Unmarshal([]byte(`["0.55","120"]`), &arr); err != nil {
		t.Fatalf("array form: %v", err)
	}
	if !arr.Price.Equal(d("0.55")) || !arr.Size.Equal(d("120")) {
		t.Fatalf("array form parsed %+v", arr)
	}

	var obj Level
	if err := json.Unmarshal([]byte(`{"price":"0.55","size":120.5}`), &obj); err != nil {
		t.Fatalf("object form: %v", err)
	}
	if !obj.Price.Equal(d("0.55")) || !obj.Size.Equal(d("120.5")) {
		t.Fatalf("object form parsed %+v", obj)
	}

	if err := json.Unmarshal([]byte(`"garbage"`), &obj); err == nil {
		t.Fatal("expected error on malformed level")
	}
}

func TestOrderBookBestScansUnsorted(t *testing.T) {
	var book OrderBook
	if err := json.Unmarshal([]byte(`{
		"bids": [["0.44","10"],["0.47","5"],["0.45","8"]],
		"asks": [["0.53","10"],["0.51","5"],["0.52","8"]]
	}`), &book); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	bid, ok := book.BestBid()
	if !ok || !bid.Equal(d("0.47")) {
		t.Fatalf("best bid = %s ok=%v", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || !ask.Equal(d("0.51")) {
		t.Fatalf("best ask = %s ok=%v", ask, ok)
	}

	empty := &OrderBook{}
	if _, ok := empty.BestBid(); ok {
		t.Fatal("empty book reported a bid")
	}
}

func TestBuildHmacSignature(t *testing.T) {
	// Same inputs must always produce the same signature, in the URL-safe
	// alphabet with padding kept.
	sig1, err := buildHmacSignature("c2VjcmV0LWtleQ==", 1725000000, "POST", "/order", []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("buildHmacSignature: %v", err)
	}
	sig2, _ := buildHmacSignature("c2VjcmV0LWtleQ==", 1725000000, "POST", "/order", []byte(`{"x":1}`))
	if sig1 != sig2 {
		t.Fatal("signature not deterministic")
	}
	if strings.ContainsAny(sig1, "+/") {
		t.Fatalf("signature not URL-safe: %s", sig1)
	}

	sig3, _ := buildHmacSignature("c2VjcmV0LWtleQ==", 1725000001, "POST", "/order", []byte(`{"x":1}`))
	if sig1 == sig3 {
		t.Fatal("timestamp not part of the message")
	}

	// base64url secrets decode the same as their standard-alphabet form.
	sig4, err := buildHmacSignature("c2VjcmV0LWtleQ", 1725000000, "POST", "/order", []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("url-safe secret: %v", err)
	}
	if sig4 != sig1 {
		t.Fatal("secret sanitization changed the key")
	}
}

func TestSignedOrderAmounts(t *testing.T) {
	// Well-known throwaway key.
	s, err := NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", "", 0)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	buy, err := s.SignedOrder("123456", "BUY", d("0.45"), d("20"))
	if err != nil {
		t.Fatalf("SignedOrder: %v", err)
	}
	// BUY: maker pays 0.45*20 = 9 USDC, taker delivers 20 shares.
	if buy["makerAmount"] != "9000000" || buy["takerAmount"] != "20000000" {
		t.Fatalf("buy amounts: maker=%v taker=%v", buy["makerAmount"], buy["takerAmount"])
	}
	if sig, _ := buy["signature"].(string); !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("signature: %v", buy["signature"])
	}

	sell, err := s.SignedOrder("123456", "sell", d("0.45"), d("20"))
	if err != nil {
		t.Fatalf("SignedOrder sell: %v", err)
	}
	if sell["makerAmount"] != "20000000" || sell["takerAmount"] != "9000000" {
		t.Fatalf("sell amounts: maker=%v taker=%v", sell["makerAmount"], sell["takerAmount"])
	}

	if _, err := s.SignedOrder("123456", "HOLD", d("0.45"), d("20")); err == nil {
		t.Fatal("invalid side accepted")
	}
}

func TestOrderInfoMatched(t *testing.T) {
	info := &OrderInfo{Price: "0.55", SizeMatched: "12.5"}
	size, avg, err := info.Matched()
	if err != nil {
		t.Fatalf("Matched: %v", err)
	}
	if !size.Equal(d("12.5")) || !avg.Equal(d("0.55")) {
		t.Fatalf("size=%s avg=%s", size, avg)
	}

	empty := &OrderInfo{}
	size, _, err = empty.Matched()
	if err != nil || !size.IsZero() {
		t.Fatalf("empty order: size=%s err=%v", size, err)
	}

	bad := &OrderInfo{SizeMatched: "zz"}
	if _, _, err := bad.Matched(); err == nil {
		t.Fatal("expected parse error")
	}
}
