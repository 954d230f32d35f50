package authsdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Pipeline sends authenticated requests. Each request carries the current
// access credential; a 401 triggers one shared renewal and exactly one
// retry. Everything else passes through untouched.
type Pipeline struct {
	store       *CredentialStore
	coordinator *RefreshCoordinator
	client      *http.Client
	baseURL     string
	logger      *slog.Logger
	observer    Observer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithHTTPClient sets the client used to send requests. Its Transport is
// also what RoundTrip sends through.
func WithHTTPClient(c *http.Client) PipelineOption {
	return func(p *Pipeline) { p.client = c }
}

// WithBaseURL sets the prefix Execute resolves paths against.
func WithBaseURL(u string) PipelineOption {
	return func(p *Pipeline) { p.baseURL = strings.TrimSuffix(u, "/") }
}

// WithPipelineLogger sets the logger for authorization failures.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithPipelineObserver receives authorization-failure events.
func WithPipelineObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// NewPipeline sends requests with store's access credential and renews
// through coordinator.
func NewPipeline(store *CredentialStore, coordinator *RefreshCoordinator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:       store,
		coordinator: coordinator,
		client:      http.DefaultClient,
		logger:      slog.Default(),
		observer:    NopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsAuthorizationFailure reports whether resp is the authorization-failure
// signal.
func IsAuthorizationFailure(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusUnauthorized
}

// Do sends req through the pipeline's client. The response is whatever the
// last attempt produced: a 401 is returned as a response once the retry is
// spent, and an error is returned when the renewal itself fails.
func (p *Pipeline) Do(req *http.Request) (*http.Response, error) {
	return p.do(req, p.client.Do)
}

// RoundTrip implements http.RoundTripper so any http.Client can be made
// authenticated; see HTTPClient.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	next := p.client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	return p.do(req, next.RoundTrip)
}

// HTTPClient returns a client whose every request goes through the
// pipeline.
func (p *Pipeline) HTTPClient() *http.Client {
	return &http.Client{Transport: p, Timeout: p.client.Timeout}
}

// Execute builds a request against the base URL and sends it.
func (p *Pipeline) Execute(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers map[string]string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return p.Do(req)
}

func (p *Pipeline) do(req *http.Request, send func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	ctx := req.Context()
	log := p.logger.With(slog.String("method", req.Method), slog.String("path", req.URL.Path))

	first, again, err := replayable(req)
	if err != nil {
		return nil, err
	}

	access, _ := p.store.Access()
	resp, err := p.attempt(req, first, access, send)
	if err != nil || !IsAuthorizationFailure(resp) {
		return resp, err
	}
	p.observer.AuthorizationFailed(false)

	fresh, err := p.coordinator.RenewAfter(ctx, access)
	if errors.Is(err, ErrNoRenewalCredential) {
		// Nothing to renew with: the 401 stands.
		log.Debug("authorization failure without renewal credential")
		return resp, nil
	}
	drain(resp)
	if err != nil {
		return nil, err
	}

	// The single retry. Whatever it yields is final.
	body, err := again()
	if err != nil {
		return nil, fmt.Errorf("failed to replay request body: %w", err)
	}
	resp, err = p.attempt(req, body, fresh, send)
	if err == nil && IsAuthorizationFailure(resp) {
		p.observer.AuthorizationFailed(true)
		log.Warn("authorization failure after renewal")
	}
	return resp, err
}

// attempt sends a copy of req carrying body and access. An empty access
// credential means no Authorization header at all.
func (p *Pipeline) attempt(
	req *http.Request,
	body io.ReadCloser,
	access string,
	send func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Body = body
	r.Header.Del("Authorization")
	if access != "" {
		r.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := send(r)
	if err != nil {
		return nil, &NetworkError{Op: r.Method + " " + r.URL.Path, Err: err}
	}
	return resp, nil
}

// replayable returns the body for the first attempt and a way to produce it
// again for the retry. Bodies without GetBody are buffered once.
func replayable(req *http.Request) (io.ReadCloser, func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Body, func() (io.ReadCloser, error) { return req.Body, nil }, nil
	}
	if req.GetBody != nil {
		return req.Body, req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	again := func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	first, _ := again()
	return first, again, nil
}
