package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/port"
)

// Keys stores exchange API keys for the registry to pick up on its next
// credential listing.
type Keys struct {
	store     port.CredentialWriter
	supported map[string]struct{}
	log       *logger.Log
}

func NewKeys(store port.CredentialWriter, supported []string, log *logger.Log) *Keys {
	set := make(map[string]struct{}, len(supported))
	for _, name := range supported {
		set[strings.ToLower(name)] = struct{}{}
	}
	return &Keys{store: store, supported: set, log: log}
}

// Add validates every credential before writing any of them, so a bad entry
// in a bulk request stores nothing.
func (k *Keys) Add(ctx context.Context, creds ...domain.ExchangeCredential) error {
	if len(creds) == 0 {
		return fmt.Errorf("%w: no credentials given", domain.ErrInvalidInput)
	}
	clean := make([]domain.ExchangeCredential, len(creds))
	for i, c := range creds {
		c.ExchangeName = strings.ToLower(strings.TrimSpace(c.ExchangeName))
		if c.ExchangeName == "" {
			return fmt.Errorf("%w: entry %d: exchange_name is required", domain.ErrInvalidInput, i)
		}
		if _, ok := k.supported[c.ExchangeName]; !ok {
			return fmt.Errorf("%w: entry %d: exchange %q is not supported", domain.ErrInvalidInput, i, c.ExchangeName)
		}
		clean[i] = c
	}
	for _, c := range clean {
		if err := k.store.SaveCredential(ctx, c); err != nil {
			return err
		}
		k.log.WithComponent("keys").WithFields(logger.Fields{"exchange": c.ExchangeName}).Info("exchange key stored")
	}
	return nil
}

func (k *Keys) Ping(ctx context.Context) error {
	return k.store.Ping(ctx)
}
