package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderInfo mirrors the /data/order/{order_id} response payload.
type OrderInfo struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	OrderType    string `json:"order_type"`
}

// Matched reports the filled portion of the order.
func (o *OrderInfo) Matched() (size decimal.Decimal, avgPrice decimal.Decimal, err error) {
	if o == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	if strings.TrimSpace(o.SizeMatched) != "" {
		size, err = decimal.NewFromString(o.SizeMatched)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("parse size_matched: %w", err)
		}
	}
	if strings.TrimSpace(o.Price) != "" {
		avgPrice, err = decimal.NewFromString(o.Price)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("parse price: %w", err)
		}
	}
	return size, avgPrice, nil
}

type PlaceOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg"`
}

type placeOrderRequest struct {
	Order     map[string]any `json:"order"`
	Owner     string         `json:"owner"`
	OrderType string         `json:"orderType"`
}

type cancelOrderRequest struct {
	OrderID string `json:"orderID"`
}

// PlaceOrder signs and submits one order. orderType is GTC for resting limit
// orders and FAK for marketable orders that should not rest.
func (c *Client) PlaceOrder(ctx context.Context, tokenID, side string, price, size decimal.Decimal, orderType string) (*PlaceOrderResponse, error) {
	if c == nil || c.signer == nil {
		return nil, fmt.Errorf("trading requires an order signer")
	}
	if orderType == "" {
		orderType = "GTC"
	}
	order, err := c.signer.SignedOrder(tokenID, side, price, size)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(placeOrderRequest{
		Order:     order,
		Owner:     c.creds.APIKey,
		OrderType: orderType,
	})
	if err != nil {
		return nil, err
	}
	const path = "/order"
	headers, err := c.l2Headers(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodPost, path, nil, headers, body)
	if err != nil {
		return nil, err
	}
	var resp PlaceOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	if !resp.Success && resp.Error != "" {
		return &resp, fmt.Errorf("order not accepted: %s", resp.Error)
	}
	return &resp, nil
}

// CancelOrder cancels a single resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("order id is required")
	}
	body, err := json.Marshal(cancelOrderRequest{OrderID: orderID})
	if err != nil {
		return err
	}
	const path = "/order"
	headers, err := c.l2Headers(http.MethodDelete, path, body)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, path, nil, headers, body)
	return err
}

// GetOrder fetches one order's current status and matched size.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderInfo, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	path := "/data/order/" + orderID
	headers, err := c.l2Headers(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil, headers, nil)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Order *OrderInfo `json:"order"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Order != nil {
		return wrapped.Order, nil
	}
	var info OrderInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("parse order info: %w", err)
	}
	return &info, nil
}
