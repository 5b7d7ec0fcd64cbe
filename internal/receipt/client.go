package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/llm"
	"finrep/internal/metrics"
	"finrep/internal/port"
)

// Client wraps a ModelClient so that every call, successful or not, leaves one signed
// receipt in the ledger. It also applies the per-call hard timeout.
type Client struct {
	next      port.ModelClient
	signer    *Signer
	repo      port.ReceiptRepository
	metrics   *metrics.Metrics
	provider  string
	model     string
	transport domain.Transport
	timeout   time.Duration
	now       func() time.Time
}

// Options configures a receipt Client.
type Options struct {
	Provider  string
	Model     string
	Transport domain.Transport
	Timeout   time.Duration
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// NewClient wraps next. Provider, model and transport label receipts of calls that fail
// before the backend answers.
func NewClient(next port.ModelClient, signer *Signer, repo port.ReceiptRepository, opts Options) *Client {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	transport := opts.Transport
	if transport == "" {
		transport = domain.TransportHTTP
	}
	return &Client{
		next:      next,
		signer:    signer,
		repo:      repo,
		metrics:   opts.Metrics,
		provider:  opts.Provider,
		model:     opts.Model,
		transport: transport,
		timeout:   opts.Timeout,
		now:       now,
	}
}

func (c *Client) Complete(ctx context.Context, req port.ModelRequest) (*port.ModelResponse, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := c.now()
	resp, err := c.next.Complete(callCtx, req)
	latency := c.now().Sub(start)

	runID := req.RunID
	if runID == uuid.Nil {
		runID = port.RunIDFrom(ctx)
	}
	rec := &domain.Receipt{
		CallID:     newCallID(),
		RunID:      runID,
		Kind:       req.Kind,
		Provider:   c.provider,
		Model:      c.model,
		Transport:  c.transport,
		LatencyMs:  latency.Milliseconds(),
		PromptHash: Hash([]byte(req.System + "\x00" + req.Prompt)),
		InputHash:  HashImages(req.Images),
		Timestamp:  start.UTC().Truncate(time.Microsecond),
	}
	if err != nil {
		rec.HTTPStatus = llm.HTTPStatus(err)
		rec.Error = err.Error()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			rec.Error = fmt.Sprintf("timeout after %s: %v", c.timeout, err)
		}
	} else {
		rec.HTTPStatus = resp.HTTPStatus
		rec.ResponseHash = Hash([]byte(resp.Text))
		if resp.Model != "" {
			rec.Model = resp.Model
		}
		if resp.Provider != "" {
			rec.Provider = resp.Provider
		}
		if resp.Transport != "" {
			rec.Transport = resp.Transport
		}
	}
	rec.Signature = c.signer.Sign(rec)

	if c.repo != nil {
		if appendErr := c.repo.Append(ctx, rec); appendErr != nil {
			zap.L().Error("receipt.Client: failed to append receipt",
				zap.String("call_id", rec.CallID.String()), zap.Error(appendErr))
		}
	}
	c.metrics.ObserveCall(rec.Provider, string(rec.Kind), err == nil, latency.Seconds())

	if err != nil {
		return nil, &domain.TransportError{Provider: rec.Provider, Status: rec.HTTPStatus, Receipt: rec, Err: err}
	}
	resp.Receipt = rec
	return resp, nil
}

func newCallID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
