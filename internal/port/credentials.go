package port

import (
	"context"

	"github.com/olyamironova/quote-engine/internal/domain"
)

type CredentialStore interface {
	ExchangeCredentials(ctx context.Context) ([]domain.ExchangeCredential, error)
}

// CredentialWriter persists exchange API keys. Implemented by the postgres
// store; the config-backed store is read-only.
type CredentialWriter interface {
	SaveCredential(ctx context.Context, c domain.ExchangeCredential) error
	Ping(ctx context.Context) error
}
