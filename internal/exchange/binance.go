// Package exchange wraps the Binance API surface the connectivity pipeline
// probes: the unauthenticated ping (direct and mirror transports) and the
// authenticated account endpoint.
package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
)

// Transport is one path to the exchange's public API surface. The direct
// transport hits the primary host; fallbacks hit the mirror hosts.
type Transport struct {
	Name string
	Ping func(ctx context.Context) error
}

// AccountSnapshot is the minimal account view the account stage needs.
// Placeholder marks a response that carries only default/demo values; the
// checker must treat those as failures, or a broken credential would be
// masked by the exchange's fallback payload.
type AccountSnapshot struct {
	CanTrade        bool
	NonZeroBalances int
	UpdatedAt       time.Time
	Placeholder     bool
}

// AccountReader fetches authenticated account info. HasCredentials lets the
// checker distinguish "not applicable" from "tried and failed".
type AccountReader interface {
	HasCredentials() bool
	AccountInfo(ctx context.Context) (AccountSnapshot, error)
}

// PingTransport builds a Transport against one Binance REST host. An empty
// baseURL keeps the client's default (the primary production host).
func PingTransport(name, baseURL string) Transport {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return Transport{
		Name: name,
		Ping: func(ctx context.Context) error {
			return client.NewPingService().Do(ctx)
		},
	}
}

// Binance reads account info through the authenticated REST API.
type Binance struct {
	client  *binance.Client
	hasKeys bool
}

func NewBinance(apiKey, apiSecret, baseURL string) *Binance {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &Binance{
		client:  client,
		hasKeys: apiKey != "" && apiSecret != "",
	}
}

func (b *Binance) HasCredentials() bool { return b.hasKeys }

func (b *Binance) AccountInfo(ctx context.Context) (AccountSnapshot, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return AccountSnapshot{}, err
	}

	nonZero := 0
	for _, bal := range acct.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		if free > 0 || locked > 0 {
			nonZero++
		}
	}

	snap := AccountSnapshot{
		CanTrade:        acct.CanTrade,
		NonZeroBalances: nonZero,
	}
	if acct.UpdateTime > 0 {
		snap.UpdatedAt = time.UnixMilli(int64(acct.UpdateTime))
	}
	// An account that cannot trade, holds nothing, and was never updated is
	// the exchange's default payload, not a real account.
	snap.Placeholder = !acct.CanTrade && nonZero == 0 && acct.UpdateTime == 0
	return snap, nil
}
