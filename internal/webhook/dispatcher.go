package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	jmes "github.com/jmespath/go-jmespath"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wpmcp/pkg/crypto"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/metrics"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

const (
	HeaderID        = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"

	maxStoredBody = 1000
	maxReadBody   = 64 << 10
)

type Config struct {
	Timeout          time.Duration
	FailureThreshold int
	MaxConcurrency   int
	// Client defaults to http.DefaultTransport; its transport is wrapped for tracing either way.
	Client *http.Client
}

// Result is the outcome of one attempt.
type Result struct {
	Success        bool   `json:"success"`
	StatusCode     *int   `json:"status_code"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	ResponseBody   string `json:"response_body,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Dispatcher fans events out to a tenant's webhooks in the background.
type Dispatcher struct {
	store  store.Webhooks
	cfg    Config
	client *http.Client
	log    *zap.SugaredLogger
	now    func() time.Time
	wg     sync.WaitGroup
}

func NewDispatcher(st store.Webhooks, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	c := http.Client{}
	if cfg.Client != nil {
		c = *cfg.Client
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.Transport = otelhttp.NewTransport(base)
	// Redirects are not followed; the response is recorded as is.
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &Dispatcher{store: st, cfg: cfg, client: &c, log: logger.OrNop(log), now: time.Now}
}

// Dispatch validates the event type and returns. Delivery continues after the caller's
// context is cancelled; each attempt is bounded only by the configured timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, eventType string, data map[string]any) error {
	if !ValidEvent(eventType) {
		return problems.Newf(problems.ValidationFailed, "unknown event type %q", eventType)
	}
	evt := newEvent(eventType, data, d.now())
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.fanOut(detached, tenantID, evt)
	}()
	return nil
}

// DispatchTo delivers to webhooks the caller loaded itself. It serves events whose
// webhooks are about to be deleted, so attempts are counted in metrics but nothing is
// written back to the store.
func (d *Dispatcher) DispatchTo(ctx context.Context, hooks []store.Webhook, eventType string, data map[string]any) error {
	if !ValidEvent(eventType) {
		return problems.Newf(problems.ValidationFailed, "unknown event type %q", eventType)
	}
	evt := newEvent(eventType, data, d.now())
	targets := d.targets(hooks, evt)
	if len(targets) == 0 {
		return nil
	}
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(detached, targets, evt, false)
	}()
	return nil
}

// Wait blocks until every in-flight dispatch has finished. Used on shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) fanOut(ctx context.Context, tenantID string, evt Event) {
	hooks, err := d.store.ListWebhooks(ctx, tenantID)
	if err != nil {
		d.log.Errorw("webhook fan-out: list", "tenant_id", tenantID, "event", evt.Type, "err", err)
		return
	}
	d.send(ctx, d.targets(hooks, evt), evt, true)
}

// targets keeps active, subscribed webhooks whose filter matches.
func (d *Dispatcher) targets(hooks []store.Webhook, evt Event) []store.Webhook {
	out := make([]store.Webhook, 0, len(hooks))
	for _, h := range hooks {
		if !h.IsActive || h.FailureCount >= d.cfg.FailureThreshold || !h.Subscribed(evt.Type) {
			continue
		}
		ok, err := matchFilter(h.Filter, evt.Data)
		if err != nil {
			d.log.Warnw("webhook filter", "webhook_id", h.ID, "err", err)
			continue
		}
		if ok {
			out = append(out, h)
		}
	}
	return out
}

// send delivers evt to every target with bounded concurrency. persist controls whether
// the delivery log and breaker are updated.
func (d *Dispatcher) send(ctx context.Context, targets []store.Webhook, evt Event, persist bool) {
	if len(targets) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrency)
	for _, h := range targets {
		h := h
		g.Go(func() error {
			res := d.deliver(gctx, h, evt)
			if persist {
				d.record(gctx, h, evt, res, true)
			} else {
				d.observe(h, evt, res)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// deliver performs one signed POST. It never returns an error; failures are part of Result.
func (d *Dispatcher) deliver(ctx context.Context, h store.Webhook, evt Event) Result {
	ctx, span := otel.Tracer("wpmcp/webhook").Start(ctx, "webhook.deliver", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("webhook.id", h.ID), attribute.String("webhook.event", evt.Type))

	body, err := json.Marshal(evt)
	if err != nil {
		return Result{Error: fmt.Sprintf("encode payload: %v", err)}
	}
	ts := strconv.FormatInt(d.now().Unix(), 10)
	sig := crypto.SignHMAC(signingInput(ts, body), h.Secret)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wpmcp-webhooks/1")
	req.Header.Set(HeaderID, evt.ID)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, "sha256="+sig)

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	metrics.WebhookDeliverySeconds.Observe(elapsed.Seconds())
	res := Result{ResponseTimeMs: elapsed.Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		span.SetStatus(codes.Error, "transport")
		return res
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBody))
	status := resp.StatusCode
	res.StatusCode = &status
	res.ResponseBody = truncate(string(raw), maxStoredBody)
	res.Success = status >= 200 && status < 300
	span.SetAttributes(attribute.Int("http.status_code", status))
	if !res.Success {
		res.Error = fmt.Sprintf("endpoint returned %d", status)
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

// record appends the attempt to the delivery log and, for real events, moves the breaker.
func (d *Dispatcher) record(ctx context.Context, h store.Webhook, evt Event, res Result, countFailures bool) {
	at := d.now().UTC()
	if err := d.store.AppendDelivery(ctx, store.Delivery{
		ID:             uuid.NewString(),
		WebhookID:      h.ID,
		EventID:        evt.ID,
		EventType:      evt.Type,
		StatusCode:     res.StatusCode,
		Success:        res.Success,
		ResponseTimeMs: res.ResponseTimeMs,
		ResponseBody:   res.ResponseBody,
		Error:          res.Error,
		Attempt:        1,
		CreatedAt:      at,
	}); err != nil {
		d.log.Errorw("webhook delivery log", "webhook_id", h.ID, "err", err)
	}
	d.observe(h, evt, res)
	if !countFailures {
		return
	}
	if res.Success {
		if err := d.store.RecordWebhookSuccess(ctx, h.ID, *res.StatusCode, at); err != nil {
			d.log.Errorw("webhook success bookkeeping", "webhook_id", h.ID, "err", err)
		}
		return
	}
	count, disabled, err := d.store.RecordWebhookFailure(ctx, h.ID, res.StatusCode, at, d.cfg.FailureThreshold)
	if err != nil {
		d.log.Errorw("webhook failure bookkeeping", "webhook_id", h.ID, "err", err)
		return
	}
	if disabled {
		metrics.WebhooksDisabled.Inc()
		d.log.Warnw("webhook disabled after consecutive failures", "webhook_id", h.ID, "tenant_id", h.TenantID, "failures", count)
	}
}

func (d *Dispatcher) observe(h store.Webhook, evt Event, res Result) {
	if res.Success {
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
	d.log.Infow("webhook delivery failed", "webhook_id", h.ID, "tenant_id", h.TenantID, "event", evt.Type, "err", res.Error)
}

// Test sends a synthetic event synchronously. The attempt is logged but the breaker is left alone.
func (d *Dispatcher) Test(ctx context.Context, h store.Webhook) Result {
	evt := newEvent(EventTest, map[string]any{
		"webhook_id": h.ID,
		"message":    "This is a test event",
	}, d.now())
	res := d.deliver(ctx, h, evt)
	d.record(ctx, h, evt, res, false)
	return res
}

func signingInput(ts string, body []byte) []byte {
	out := make([]byte, 0, len(ts)+1+len(body))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, body...)
}

// VerifySignature checks a delivery the way a receiving endpoint would.
func VerifySignature(secret, timestamp string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	return crypto.VerifyHMAC(signingInput(timestamp, body), secret, header[len(prefix):])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// matchFilter evaluates an optional JMESPath expression against the event data.
// An empty filter matches everything.
func matchFilter(expr string, data map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	jp, err := jmes.Compile(expr)
	if err != nil {
		return false, err
	}
	var doc any
	raw, err := json.Marshal(data)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, err
	}
	v, err := jp.Search(doc)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
