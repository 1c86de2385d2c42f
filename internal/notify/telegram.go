// Package notify tells operators about tracked passes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

const (
	queueSize   = 16
	sendTimeout = 10 * time.Second
	sendRetries = 2
)

// TelegramConfig holds the bot credentials.
type TelegramConfig struct {
	Token   string
	ChatID  string
	BaseURL string
}

// Enabled reports whether both credentials are set.
func (c TelegramConfig) Enabled() bool {
	return c.Token != "" && c.ChatID != ""
}

// Telegram posts pass start and end messages to a chat. Messages are sent
// from a background goroutine so a slow API never delays tracking; failures
// are logged and dropped.
type Telegram struct {
	cfg  TelegramConfig
	http *http.Client
	log  logging.Logger

	queue chan string
	wg    sync.WaitGroup
	once  sync.Once
}

// NewTelegram starts a notifier. Close flushes pending messages.
func NewTelegram(cfg TelegramConfig, httpClient *http.Client, log logging.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramAPI
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: sendTimeout}
	}
	if log == nil {
		log = logging.Noop()
	}
	t := &Telegram{cfg: cfg, http: httpClient, log: log, queue: make(chan string, queueSize)}
	t.wg.Add(1)
	go t.loop()
	return t
}

// PassStarted implements the supervisor's Observer.
func (t *Telegram) PassStarted(ctx context.Context, s model.TrackingSession) {
	w := s.Window
	t.enqueue(ctx, fmt.Sprintf("Tracking %s: pass %s to %s UTC, max elevation %.1f°",
		w.ObjectID, w.Start.UTC().Format("15:04:05"), w.End.UTC().Format("15:04:05"), w.MaxElevation))
}

// PassEnded implements the supervisor's Observer.
func (t *Telegram) PassEnded(ctx context.Context, s model.TrackingSession) {
	msg := fmt.Sprintf("Pass of %s %s (%s), %d commands",
		s.Window.ObjectID, s.Phase, s.Reason, s.CommandsSent)
	if s.Phase == model.PhaseFailed && s.LastError != nil {
		msg += ": " + s.LastError.Error()
	}
	t.enqueue(ctx, msg)
}

// Close stops accepting messages and waits for queued ones to be sent.
func (t *Telegram) Close() {
	t.once.Do(func() { close(t.queue) })
	t.wg.Wait()
}

func (t *Telegram) enqueue(ctx context.Context, msg string) {
	select {
	case t.queue <- msg:
	default:
		t.log.Warn(ctx, "telegram queue full, dropping message")
	}
}

func (t *Telegram) loop() {
	defer t.wg.Done()
	for msg := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := t.send(ctx, msg); err != nil {
			t.log.Warn(ctx, "telegram notification failed", logging.Err(err))
		}
		cancel()
	}
}

func (t *Telegram) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.Token)
	form := url.Values{"chat_id": {t.cfg.ChatID}, "text": {text}}.Encode()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := t.http.Do(req)
		if err != nil {
			// The request URL carries the bot token.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				return uerr.Err
			}
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = fmt.Errorf("sendMessage: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(200*time.Millisecond)), sendRetries)
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
