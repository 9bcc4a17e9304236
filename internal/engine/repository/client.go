// Package repository talks to remote assembly repositories and serves a
// directory of assemblies in the same protocol.
package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	"ilview/internal/shared/observability"
	"ilview/internal/shared/util"
)

const (
	endpointVerify   = "verify"
	endpointAssembly = "assembly"

	// RuntimeSilverlight replaces the module runtime when the calling
	// assembly or the reference targets Silverlight.
	RuntimeSilverlight = "Silverlight"

	maxAssemblyBytes = 64 << 20
)

// Query identifies an assembly on a repository.
type Query struct {
	Name            string
	Version         string
	Token           string
	Architecture    string
	Runtime         string
	SpecificVersion bool
}

// QueryFor builds the lookup for ref as seen from the calling assembly.
// The architecture and runtime come from the caller's main module.
func QueryFor(calling *metadata.Assembly, ref *metadata.AssemblyName) Query {
	q := Query{
		Name:         ref.Name,
		Version:      ref.Version.String(),
		Token:        ref.TokenString(),
		Architecture: metadata.ArchI386.String(),
		Runtime:      metadata.RuntimeNet40.String(),
	}
	if m := calling.MainModule(); m != nil {
		q.Architecture = m.Architecture.String()
		q.Runtime = m.Runtime.String()
	}
	if metadata.HasSilverlightToken(ref) || calling.IsSilverlight() {
		q.Runtime = RuntimeSilverlight
	}
	return q
}

// Values encodes q as request parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("name", q.Name)
	v.Set("version", q.Version)
	v.Set("token", q.Token)
	v.Set("architecture", q.Architecture)
	v.Set("runtime", q.Runtime)
	v.Set("specificversion", strconv.FormatBool(q.SpecificVersion))
	return v
}

// ParseQuery reads a query back from request parameters. A missing or
// malformed specificversion means false.
func ParseQuery(v url.Values) Query {
	specific, _ := strconv.ParseBool(v.Get("specificversion"))
	return Query{
		Name:            v.Get("name"),
		Version:         v.Get("version"),
		Token:           strings.ToLower(v.Get("token")),
		Architecture:    v.Get("architecture"),
		Runtime:         v.Get("runtime"),
		SpecificVersion: specific,
	}
}

// ClientOptions tunes the HTTP client. Zero values keep the defaults.
type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Client queries repositories over HTTP. Requests to one address share a
// rate limiter.
type Client struct {
	http     *http.Client
	limiters *util.LimiterRegistry
	logger   *slog.Logger
}

func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:     &http.Client{Timeout: opts.Timeout},
		limiters: util.NewLimiterRegistry(opts.RequestsPerSecond, opts.Burst, 10*time.Minute),
		logger:   opts.Logger,
	}
}

// Close stops the limiter sweep.
func (c *Client) Close() {
	c.limiters.Close()
}

// Verify asks one repository whether it holds the assembly. Transport
// failures and unexpected statuses are NETWORK_ERROR.
func (c *Client) Verify(ctx context.Context, address string, q Query) (bool, error) {
	resp, err := c.get(ctx, address, endpointVerify, q)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		observability.RepositoryRequestsTotal.WithLabelValues(endpointVerify, "found").Inc()
		return true, nil
	case http.StatusNotFound:
		observability.RepositoryRequestsTotal.WithLabelValues(endpointVerify, "missing").Inc()
		return false, nil
	}
	observability.RepositoryRequestsTotal.WithLabelValues(endpointVerify, "error").Inc()
	return false, statusError(address, resp)
}

// Fetch downloads the assembly bytes. A 404 is NOT_FOUND.
func (c *Client) Fetch(ctx context.Context, address string, q Query) ([]byte, error) {
	resp, err := c.get(ctx, address, endpointAssembly, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		observability.RepositoryRequestsTotal.WithLabelValues(endpointAssembly, "missing").Inc()
		err := errors.Newf(errors.CodeNotFound, "assembly %s not found in repository", q.Name)
		return nil, errors.AddContext(err, errors.CtxAssembly, address)
	default:
		observability.RepositoryRequestsTotal.WithLabelValues(endpointAssembly, "error").Inc()
		return nil, statusError(address, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssemblyBytes+1))
	if err != nil {
		observability.RepositoryRequestsTotal.WithLabelValues(endpointAssembly, "error").Inc()
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNetwork, "read repository response"), errors.CtxAssembly, address)
	}
	if len(data) > maxAssemblyBytes {
		observability.RepositoryRequestsTotal.WithLabelValues(endpointAssembly, "error").Inc()
		return nil, errors.Newf(errors.CodeNetwork, "repository response exceeds %d bytes", maxAssemblyBytes)
	}
	observability.RepositoryRequestsTotal.WithLabelValues(endpointAssembly, "found").Inc()
	return data, nil
}

// FindAvailable verifies each address in order and returns the first that
// holds the assembly. Unreachable repositories are skipped.
func (c *Client) FindAvailable(ctx context.Context, addresses []string, q Query) (string, bool) {
	for _, address := range addresses {
		ok, err := c.Verify(ctx, address, q)
		if err != nil {
			c.logger.Warn("repository unavailable", "address", address, "assembly", q.Name, "error", err)
			continue
		}
		if ok {
			return address, true
		}
	}
	return "", false
}

func (c *Client) get(ctx context.Context, address, endpoint string, q Query) (*http.Response, error) {
	ctx, span := observability.Tracer.Start(ctx, "repository."+endpoint)
	defer span.End()
	span.SetAttributes(
		attribute.String("repository.address", address),
		attribute.String("assembly.name", q.Name),
		attribute.String("assembly.version", q.Version),
	)

	target := strings.TrimRight(address, "/") + "/" + endpoint + "?" + q.Values().Encode()
	if err := c.limiters.Get(address).Wait(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNetwork, "repository rate limit wait"), errors.CtxAssembly, address)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "build repository request"), errors.CtxAssembly, address)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RepositoryRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNetwork, "repository request failed"), errors.CtxAssembly, address)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func statusError(address string, resp *http.Response) error {
	err := errors.New(errors.CodeNetwork, fmt.Sprintf("repository answered %s", resp.Status))
	return errors.AddContext(err, errors.CtxAssembly, address)
}
