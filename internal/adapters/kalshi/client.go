// Package kalshi es el adapter HTTP de la trade-api v2 de Kalshi.
package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

const (
	DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"
	ProdBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// Rate limits al 60% del tier básico: 20 lecturas/s y 10 escrituras/s.
	readRatePerSec  = 12
	writeRatePerSec = 6

	defaultPageSize = 200
	defaultMaxPages = 10

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// BaseURLFor devuelve la raíz de la API para el entorno de datos.
func BaseURLFor(env domain.DataEnvironment) string {
	if env == domain.EnvProd {
		return ProdBaseURL
	}
	return DemoBaseURL
}

// APIError es una respuesta 4xx de la API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Status, e.Body)
}

// Is hace que 401/403 matcheen domain.ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrUnauthorized &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// Client es el HTTP client de Kalshi con rate limiting, retries y circuit breaker.
type Client struct {
	http         *http.Client
	base         string
	signer       *Signer
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
	books        *gobreaker.CircuitBreaker
	pageSize     int
	maxPages     int
	status       string
	retryWait    time.Duration
}

// Option configura un Client.
type Option func(*Client)

// WithHTTPClient reemplaza el http.Client (timeout 10s por defecto).
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithPaging fija el tamaño de página y el máximo de páginas de /markets.
func WithPaging(pageSize, maxPages int) Option {
	return func(c *Client) {
		if pageSize > 0 {
			c.pageSize = pageSize
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// WithStatus filtra /markets por estado ("open" por defecto; "" = sin filtro).
func WithStatus(status string) Option { return func(c *Client) { c.status = status } }

// WithRetryWait cambia la espera base del backoff.
func WithRetryWait(d time.Duration) Option { return func(c *Client) { c.retryWait = d } }

// NewClient crea un Client. Si base está vacío usa el entorno demo.
// signer puede ser nil para modos que solo leen datos públicos.
func NewClient(base string, signer *Signer, opts ...Option) *Client {
	if base == "" {
		base = DemoBaseURL
	}
	c := &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		base:         base,
		signer:       signer,
		readLimiter:  rate.NewLimiter(readRatePerSec, 5),
		writeLimiter: rate.NewLimiter(writeRatePerSec, 2),
		pageSize:     defaultPageSize,
		maxPages:     defaultMaxPages,
		status:       "open",
		retryWait:    baseRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.books = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "kalshi-orderbook",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("kalshi: circuit breaker", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// breakerSuccess: solo errores del exchange o de red cuentan como fallo.
// Un 4xx (ticker inexistente) o una cancelación no abren el circuito.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && !errors.Is(err, domain.ErrUnauthorized)
}

// Authenticated indica si el client tiene credenciales para firmar.
func (c *Client) Authenticated() bool { return c.signer != nil }

// get hace un GET con rate limiting y retries. Firma si hay signer.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doWithRetry(ctx, c.readLimiter, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// post hace un POST JSON firmado. Sin signer devuelve domain.ErrUnauthorized.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.signer == nil {
		return fmt.Errorf("post %s: no credentials: %w", path, domain.ErrUnauthorized)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, c.writeLimiter, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// doWithRetry ejecuta el request con backoff exponencial. El request se
// reconstruye en cada intento para que timestamp y firma sean frescos.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, build func() (*http.Request, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if c.signer != nil {
			if err := c.signer.apply(req); err != nil {
				return err
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by API", "attempt", attempt+1, "path", req.URL.Path)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
