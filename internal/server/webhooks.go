package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"huddle/internal/config"
	"huddle/internal/domain"
	"huddle/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

var webhookInterval = defaultWebhookInterval

// hookTarget is one enabled webhook with its own delivery cursor. The
// dispatcher goroutine is the only writer of cursor.
type hookTarget struct {
	url    string
	secret string
	match  eventMatcher
	client *http.Client
	cursor int64
}

// StartWebhooks polls the audit log and posts new events to every enabled
// hook until ctx is done. Hooks only see events recorded after startup. The
// returned channel closes when the dispatcher exits.
func StartWebhooks(ctx context.Context, r repo.Repo, hooks []config.WebhookConfig, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	if logger == nil {
		logger = slog.Default()
	}
	targets := newHookTargets(hooks)
	if len(targets) == 0 || r.DB == nil {
		close(done)
		return done
	}
	start, err := r.LatestEventID(ctx, "")
	if err != nil {
		logger.Warn("webhooks: read start cursor", "error", err)
	}
	for _, t := range targets {
		t.cursor = start
	}
	logger.Info("webhooks started", "hooks", len(targets), "cursor", start)
	go func() {
		defer close(done)
		ticker := time.NewTicker(webhookInterval)
		defer ticker.Stop()
		for {
			for _, t := range targets {
				t.deliverPending(ctx, r, logger)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}

func newHookTargets(hooks []config.WebhookConfig) []*hookTarget {
	var targets []*hookTarget
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		url := strings.TrimSpace(hook.URL)
		if url == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		targets = append(targets, &hookTarget{
			url:    url,
			secret: strings.TrimSpace(hook.Secret),
			match:  newEventMatcher(hook.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	return targets
}

// deliverPending posts events after the cursor in order and stops at the
// first failed delivery so it is retried on the next tick.
func (t *hookTarget) deliverPending(ctx context.Context, r repo.Repo, logger *slog.Logger) {
	pending, err := r.EventsAfter(ctx, defaultWebhookBatch, t.cursor, "")
	if err != nil {
		logger.Warn("webhooks: fetch events", "error", err)
		return
	}
	for _, evt := range pending {
		if t.match.match(evt.Type) {
			if err := t.post(ctx, evt); err != nil {
				logger.Warn("webhooks: delivery failed", "url", t.url, "event_id", evt.ID, "type", evt.Type, "error", err)
				return
			}
			logger.Debug("webhooks: delivered", "url", t.url, "event_id", evt.ID, "type", evt.Type)
		}
		t.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func toWebhookEvent(evt domain.Event) webhookEvent {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		SessionID:  evt.SessionID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
}

// signBody returns the hex HMAC-SHA256 of body keyed by secret.
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (t *hookTarget) post(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(toWebhookEvent(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Huddle-Event", evt.Type)
	req.Header.Set("X-Huddle-Delivery", strconv.FormatInt(evt.ID, 10))
	if evt.SessionID != "" {
		req.Header.Set("X-Huddle-Session", evt.SessionID)
	}
	if t.secret != "" {
		req.Header.Set("X-Huddle-Signature", "sha256="+signBody(t.secret, body))
	}
	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// eventMatcher selects event types by exact name or by a "prefix.*" pattern.
// An empty matcher selects everything.
type eventMatcher struct {
	exact    map[string]bool
	prefixes []string
}

func newEventMatcher(patterns []string) eventMatcher {
	m := eventMatcher{exact: map[string]bool{}}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			return eventMatcher{}
		case strings.HasSuffix(p, ".*"):
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "*"))
		default:
			m.exact[p] = true
		}
	}
	return m
}

func (m eventMatcher) match(typ string) bool {
	if len(m.exact) == 0 && len(m.prefixes) == 0 {
		return true
	}
	if m.exact[typ] {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}
