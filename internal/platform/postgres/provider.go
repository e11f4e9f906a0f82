package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plateful/api/internal/platform/config"
)

const defaultConnectTimeout = 10 * time.Second

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("postgres: provider is closed")

// Provider lazily initialises a shared pgx connection pool.
type Provider struct {
	cfg            config.DatabaseConfig
	connectTimeout time.Duration

	stateMu sync.Mutex
	pool    *pgxpool.Pool

	closed atomic.Bool
}

// ProviderOption customises Provider behaviour.
type ProviderOption func(*Provider)

// WithConnectTimeout overrides the timeout used when establishing the pool.
func WithConnectTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.connectTimeout = timeout
		}
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:            cfg,
		connectTimeout: defaultConnectTimeout,
	}
	if cfg.ConnectTimeout > 0 {
		provider.connectTimeout = cfg.ConnectTimeout
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Pool returns the shared pool, creating it on first use.
func (p *Provider) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}

	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(p.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if p.cfg.MaxConns > 0 {
		poolCfg.MaxConns = p.cfg.MaxConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	p.pool = pool
	return pool, nil
}

// Ping verifies connectivity for readiness checks.
func (p *Provider) Ping(ctx context.Context) error {
	pool, err := p.Pool(ctx)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool. Subsequent calls to Pool fail with ErrProviderClosed.
func (p *Provider) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}
