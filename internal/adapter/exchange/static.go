package exchange

import (
	"context"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

// StaticCredentials serves credentials from configuration.
type StaticCredentials []domain.ExchangeCredential

var _ port.CredentialStore = StaticCredentials(nil)

func (s StaticCredentials) ExchangeCredentials(ctx context.Context) ([]domain.ExchangeCredential, error) {
	return append([]domain.ExchangeCredential(nil), s...), nil
}
