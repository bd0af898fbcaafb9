package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/olyamironova/quote-engine/internal/config"
	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/port"
)

// Options carries what a constructor needs besides the credential. Every
// connection gets its own HTTP client; the limiter is shared per exchange.
type Options struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	BaseURL    string
	BookLimit  int
}

type Constructor func(cred domain.ExchangeCredential, opts Options) port.Connection

// constructors is the allow-list of exchanges this service can talk to.
var constructors = map[string]Constructor{
	"binance": newBinance,
	"bybit":   newBybit,
	"kraken":  newKraken,
}

// Supported returns the allow-listed exchange identifiers, sorted.
func Supported() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultCredential is the single place that decides which exchange serves
// single-exchange requests: the first configured credential, or the fallback.
func DefaultCredential(creds []domain.ExchangeCredential, fallback domain.ExchangeCredential) domain.ExchangeCredential {
	if len(creds) == 0 {
		return fallback
	}
	return creds[0]
}

type Registry struct {
	table     map[string]Constructor
	store     port.CredentialStore
	fallback  domain.ExchangeCredential
	limiters  map[string]*rate.Limiter
	baseURLs  map[string]string
	timeout   time.Duration
	bookLimit int
	log       *logger.Log
}

func NewRegistry(cfg config.ExchangesConfig, store port.CredentialStore, log *logger.Log) *Registry {
	throttle := make(map[string]config.ThrottleConfig, len(cfg.Throttle))
	for name, t := range cfg.Throttle {
		throttle[strings.ToLower(strings.TrimSpace(name))] = t
	}
	limiters := make(map[string]*rate.Limiter, len(constructors))
	for name := range constructors {
		limiters[name] = rate.NewLimiter(rate.Inf, 0)
		if t, ok := throttle[name]; ok && t.RequestsPerSecond > 0 {
			burst := t.Burst
			if burst <= 0 {
				burst = 1
			}
			limiters[name] = rate.NewLimiter(rate.Limit(t.RequestsPerSecond), burst)
		}
	}
	baseURLs := make(map[string]string, len(cfg.BaseURLs))
	for name, u := range cfg.BaseURLs {
		baseURLs[strings.ToLower(strings.TrimSpace(name))] = strings.TrimRight(u, "/")
	}
	return &Registry{
		table:     constructors,
		store:     store,
		fallback:  cfg.Fallback,
		limiters:  limiters,
		baseURLs:  baseURLs,
		timeout:   cfg.CallTimeout,
		bookLimit: cfg.BookLimit,
		log:       log,
	}
}

// ListCredentials never returns an empty list: store failures and empty
// stores degrade to the fallback credential.
func (r *Registry) ListCredentials(ctx context.Context) []domain.ExchangeCredential {
	if r.store == nil {
		return []domain.ExchangeCredential{r.fallback}
	}
	creds, err := r.store.ExchangeCredentials(ctx)
	if err != nil {
		r.log.WithComponent("exchange_registry").WithError(err).
			Warn("credential store unavailable, using fallback exchange")
		return []domain.ExchangeCredential{r.fallback}
	}
	if len(creds) == 0 {
		return []domain.ExchangeCredential{r.fallback}
	}
	return creds
}

func (r *Registry) Default(ctx context.Context) domain.ExchangeCredential {
	return DefaultCredential(r.ListCredentials(ctx), r.fallback)
}

// Resolve opens a connection for cred. Names are matched case-insensitively
// against the allow-list; anything else is domain.ErrNotFound.
func (r *Registry) Resolve(cred domain.ExchangeCredential) (port.Connection, error) {
	name := strings.ToLower(strings.TrimSpace(cred.ExchangeName))
	ctor, ok := r.table[name]
	if !ok {
		return nil, fmt.Errorf("%w: exchange %q is not supported", domain.ErrNotFound, cred.ExchangeName)
	}
	limiter := r.limiters[name]
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return ctor(cred, Options{
		HTTPClient: &http.Client{Timeout: r.timeout},
		Limiter:    limiter,
		BaseURL:    r.baseURLs[name],
		BookLimit:  r.bookLimit,
	}), nil
}

// ResolveByName finds the configured credential for name and opens it.
func (r *Registry) ResolveByName(ctx context.Context, name string) (port.Connection, error) {
	for _, cred := range r.ListCredentials(ctx) {
		if strings.EqualFold(strings.TrimSpace(cred.ExchangeName), strings.TrimSpace(name)) {
			return r.Resolve(cred)
		}
	}
	return nil, fmt.Errorf("%w: exchange %q is not configured", domain.ErrNotFound, name)
}

// Has reports whether name is both supported and configured.
func (r *Registry) Has(ctx context.Context, name string) bool {
	if _, ok := r.table[strings.ToLower(strings.TrimSpace(name))]; !ok {
		return false
	}
	for _, cred := range r.ListCredentials(ctx) {
		if strings.EqualFold(strings.TrimSpace(cred.ExchangeName), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
