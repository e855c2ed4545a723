package clob

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcBase converts decimal prices/sizes into 1e6 on-chain units.
var usdcBase = decimal.NewFromInt(1_000_000)

// Signer signs orders locally with the trading key. Key custody beyond
// holding the parsed key in memory is out of scope.
type Signer struct {
	key           *ecdsa.PrivateKey
	address       string
	funder        string
	signatureType int
}

func NewSigner(privateKeyHex, funder string, signatureType int) (*Signer, error) {
	pk := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if pk == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(pk)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	funder = strings.TrimSpace(funder)
	if funder == "" {
		funder = addr
	}
	return &Signer{
		key:           key,
		address:       addr,
		funder:        strings.ToLower(funder),
		signatureType: signatureType,
	}, nil
}

func (s *Signer) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// SignedOrder builds and signs one order payload in the shape the CLOB
// accepts: maker/taker amounts in 1e6 units, side BUY or SELL, hex signature
// over the keccak hash of the canonical unsigned order.
func (s *Signer) SignedOrder(tokenID, side string, price, size decimal.Decimal) (map[string]any, error) {
	if s == nil || s.key == nil {
		return nil, fmt.Errorf("signer is not configured")
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, fmt.Errorf("token_id is required")
	}
	side = strings.ToUpper(strings.TrimSpace(side))
	if side != "BUY" && side != "SELL" {
		return nil, fmt.Errorf("invalid order side %q", side)
	}
	if price.LessThanOrEqual(decimal.Zero) || size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("price and size must be > 0")
	}

	// BUY: maker = collateral spent, taker = shares received. SELL swaps them.
	makerAmount := price.Mul(size).Mul(usdcBase)
	takerAmount := size.Mul(usdcBase)
	if side == "SELL" {
		makerAmount, takerAmount = takerAmount, makerAmount
	}

	order := map[string]any{
		"salt":          strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		"maker":         s.funder,
		"signer":        s.address,
		"taker":         zeroAddress,
		"tokenId":       tokenID,
		"makerAmount":   makerAmount.Round(0).StringFixed(0),
		"takerAmount":   takerAmount.Round(0).StringFixed(0),
		"expiration":    "0",
		"nonce":         "0",
		"feeRateBps":    "0",
		"side":          side,
		"signatureType": s.signatureType,
	}

	canonical, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	hash := crypto.Keccak256(canonical)
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	order["signature"] = "0x" + hex.EncodeToString(sig)
	return order, nil
}
