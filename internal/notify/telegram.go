// Package notify sends connectivity alerts to a Telegram chat via the Bot
// API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/tradegate/gatewatch/internal/conncheck"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     *log.Logger
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// sendAsync fires the message off without blocking the caller. Delivery
// failures are logged, never surfaced: a broken Telegram token must not
// interfere with connectivity handling.
func (n *Notifier) sendAsync(msg string) {
	if !n.enabled {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Send(ctx, msg); err != nil {
			n.logger.Printf("notify: %v", err)
		}
	}()
}

// NotifyNetworkProblem announces a failed check cycle with its failure class.
func (n *Notifier) NotifyNetworkProblem(f conncheck.Failure) {
	var msg string
	switch f {
	case conncheck.FailureInternetDown:
		msg = "<b>Network Problem</b>\nNo internet connectivity. Trading is paused."
	case conncheck.FailureUpstreamUnreachable:
		msg = "<b>Network Problem</b>\nInternet is up but the exchange API is unreachable."
	case conncheck.FailureAuthentication:
		msg = "<b>Network Problem</b>\nExchange reachable but the account check failed."
	default:
		return
	}
	n.sendAsync(msg)
}

// NotifyConnectionRestored announces recovery after an offline period.
func (n *Notifier) NotifyConnectionRestored() {
	n.sendAsync("<b>Connection Restored</b>\nAll connectivity checks passed. Trading resumed.")
}

// NotifyAuthFailure announces an account verification failure on an
// otherwise healthy network.
func (n *Notifier) NotifyAuthFailure() {
	n.sendAsync("<b>Account Check Failed</b>\nVerify the API key and its permissions. The network itself is fine.")
}

// NotifyBypassHint suggests the bypass override after repeated manual
// check failures.
func (n *Notifier) NotifyBypassHint() {
	n.sendAsync("<b>Still Offline</b>\nRepeated checks keep failing. You can enable bypass to trade at your own risk.")
}
