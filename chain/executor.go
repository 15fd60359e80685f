package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SaaSy-Solutions/mockforge-sub003/templating"
)

// Executor runs a validated ChainDefinition's links in dependency order,
// optionally in parallel, templating requests and extracting variables from
// responses via the shared templating context.
type Executor struct {
	client *http.Client
	logger *slog.Logger
	runner ScriptRunner
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient overrides the executor's HTTP client.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithLogger overrides the executor's logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithScriptRunner stores a ScriptRunner on the executor. The executor does
// not call it: a link's declared pre/post scripts are accepted but never
// run, with or without a runner.
func WithScriptRunner(runner ScriptRunner) ExecutorOption {
	return func(e *Executor) { e.runner = runner }
}

// NewExecutor returns an Executor with sane defaults: a 30s-timeout HTTP
// client and a discard logger.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs def to completion (or until def.Config.GlobalTimeoutSecs
// elapses) and returns the resulting ChainContext. Validation failures abort
// before any request is sent; per-link transport failures are recorded in
// the context rather than aborting the chain.
func (e *Executor) Execute(ctx context.Context, def ChainDefinition) (*ChainContext, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	chainCtx := NewChainContext()
	for k, v := range def.Variables {
		chainCtx.SetVariable(k, v)
	}

	if def.Config.GlobalTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(def.Config.GlobalTimeoutSecs)*time.Second)
		defer cancel()
	}

	byID := make(map[string]ChainLink, len(def.Links))
	for _, link := range def.Links {
		byID[link.Request.ID] = link
	}

	order := topoOrder(def.Links)

	if def.Config.EnableParallelExecution {
		return chainCtx, e.runParallel(ctx, order, byID, chainCtx)
	}
	return chainCtx, e.runSequential(ctx, order, byID, chainCtx)
}

// topoOrder returns link ids in an order where every dependency precedes its
// dependents. Validate must have already confirmed the graph is acyclic.
func topoOrder(links []ChainLink) []string {
	byID := make(map[string]ChainLink, len(links))
	for _, l := range links {
		byID[l.Request.ID] = l
	}

	var order []string
	done := make(map[string]bool, len(links))

	var visit func(id string)
	visit = func(id string) {
		if done[id] {
			return
		}
		link := byID[id]
		for _, dep := range link.Request.DependsOn {
			visit(dep)
		}
		done[id] = true
		order = append(order, id)
	}

	for _, l := range links {
		visit(l.Request.ID)
	}
	return order
}

func (e *Executor) runSequential(ctx context.Context, order []string, byID map[string]ChainLink, chainCtx *ChainContext) error {
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("chain execution timed out: %w", err)
		}
		e.runLink(ctx, byID[id], chainCtx)
	}
	return nil
}

// runParallel executes links level by level: all links whose dependencies
// have already completed run concurrently via an errgroup, and the executor
// waits for each wave before starting the next.
func (e *Executor) runParallel(ctx context.Context, order []string, byID map[string]ChainLink, chainCtx *ChainContext) error {
	completed := make(map[string]bool, len(order))
	var mu sync.Mutex
	remaining := append([]string(nil), order...)

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("chain execution timed out: %w", err)
		}

		var ready []string
		var next []string
		for _, id := range remaining {
			link := byID[id]
			if depsSatisfied(link, completed) {
				ready = append(ready, id)
			} else {
				next = append(next, id)
			}
		}
		if len(ready) == 0 {
			// Nothing new could start; avoid spinning forever.
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ready {
			id := id
			g.Go(func() error {
				e.runLink(gctx, byID[id], chainCtx)
				mu.Lock()
				completed[id] = true
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		remaining = next
	}

	return nil
}

func depsSatisfied(link ChainLink, completed map[string]bool) bool {
	for _, dep := range link.Request.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// runLink templates, sends, and records the result of a single link. Errors
// never propagate past this call: they are captured into the ChainResponse.
func (e *Executor) runLink(ctx context.Context, link ChainLink, chainCtx *ChainContext) {
	tctx := buildTemplatingContext(chainCtx)

	url := tctx.ExpandString(link.Request.URL)
	headers := make(map[string]string, len(link.Request.Headers))
	for k, v := range link.Request.Headers {
		headers[k] = tctx.ExpandString(v)
	}

	var bodyReader io.Reader
	contentType := ""
	if link.Request.Body != nil {
		contentType = link.Request.Body.ContentTypeOrDefault()
		switch link.Request.Body.Kind {
		case BodyJSON:
			rendered := renderJSONBody(tctx, link.Request.Body.JSON)
			data, err := json.Marshal(rendered)
			if err != nil {
				chainCtx.StoreResponse(linkStoreName(link), ChainResponse{Error: fmt.Sprintf("encode body: %v", err), ExecutedAt: time.Now()})
				return
			}
			bodyReader = bytes.NewReader(data)
		case BodyBinary:
			data, err := os.ReadFile(link.Request.Body.Path)
			if err != nil {
				chainCtx.StoreResponse(linkStoreName(link), ChainResponse{Error: fmt.Sprintf("read binary file: %v", err), ExecutedAt: time.Now()})
				return
			}
			bodyReader = bytes.NewReader(data)
		}
	}

	reqCtx := ctx
	if link.Request.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(link.Request.TimeoutSecs)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, link.Request.Method, url, bodyReader)
	if err != nil {
		e.recordTransportFailure(link, chainCtx, err)
		return
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		e.recordTransportFailure(link, chainCtx, err)
		return
	}
	defer resp.Body.Close()

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	var decodedBody any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decodedBody); err != nil {
			decodedBody = string(raw)
		}
	}

	chainResp := ChainResponse{
		Status:     resp.StatusCode,
		Headers:    respHeaders,
		Body:       decodedBody,
		DurationMS: duration.Milliseconds(),
		ExecutedAt: start,
	}

	if len(link.Request.ExpectedStatus) > 0 && !statusExpected(resp.StatusCode, link.Request.ExpectedStatus) {
		chainResp.Error = "unexpected status"
	}

	e.extract(link, decodedBody, chainCtx)

	name := linkStoreName(link)
	chainCtx.StoreResponse(name, chainResp)
	if link.StoreAs != "" && link.StoreAs != link.Request.ID {
		chainCtx.StoreResponse(link.StoreAs, chainResp)
	}
}

func (e *Executor) recordTransportFailure(link ChainLink, chainCtx *ChainContext, err error) {
	chainCtx.StoreResponse(linkStoreName(link), ChainResponse{
		Status:     0,
		Error:      err.Error(),
		ExecutedAt: time.Now(),
	})
	e.logger.Warn("chain link transport failure", "request_id", link.Request.ID, "error", err)
}

func linkStoreName(link ChainLink) string {
	if link.StoreAs != "" {
		return link.StoreAs
	}
	return link.Request.ID
}

func statusExpected(status int, expected []int) bool {
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}

// extract evaluates each link.Extract path against the decoded response body
// and stores successes in chainCtx.Variables. Unresolved paths are logged
// but never fatal.
func (e *Executor) extract(link ChainLink, body any, chainCtx *ChainContext) {
	for varName, path := range link.Extract {
		value, err := templating.Query(body, path)
		if err != nil || len(value) == 0 {
			e.logger.Warn("chain extraction path did not resolve", "request_id", link.Request.ID, "variable", varName, "path", path)
			continue
		}
		if len(value) == 1 {
			chainCtx.SetVariable(varName, value[0])
		} else {
			chainCtx.SetVariable(varName, value)
		}
	}
}

// buildTemplatingContext exposes a ChainContext's responses and variables
// to Service S: chain.<name>.<field...> for stored responses (body is
// reachable as chain.<name>.body.<path>) and bare names for variables.
func buildTemplatingContext(chainCtx *ChainContext) *templating.Context {
	tctx := templating.New()

	chainVar := make(map[string]any, len(chainCtx.Responses))
	for name, resp := range chainCtx.Responses {
		chainVar[name] = map[string]any{
			"status": resp.Status,
			"body":   resp.Body,
			"error":  resp.Error,
		}
	}
	tctx.Set("chain", chainVar)

	for name, value := range chainCtx.Variables {
		tctx.Set(name, value)
	}

	return tctx
}

// renderJSONBody walks a decoded JSON value, expanding {{...}} placeholders
// in every string it finds, leaving structure and non-string values intact.
func renderJSONBody(tctx *templating.Context, value any) any {
	switch v := value.(type) {
	case string:
		return tctx.ExpandString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = renderJSONBody(tctx, val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = renderJSONBody(tctx, val)
		}
		return out
	default:
		return v
	}
}
