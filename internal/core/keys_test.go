package core

import (
	"context"
	"errors"
	"testing"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
)

type memoryWriter struct {
	saved []domain.ExchangeCredential
	err   error
}

func (w *memoryWriter) SaveCredential(_ context.Context, c domain.ExchangeCredential) error {
	if w.err != nil {
		return w.err
	}
	w.saved = append(w.saved, c)
	return nil
}

func (w *memoryWriter) Ping(context.Context) error { return w.err }

func TestKeysAddNormalizesName(t *testing.T) {
	w := &memoryWriter{}
	k := NewKeys(w, []string{"binance", "kraken"}, logger.Discard())

	err := k.Add(context.Background(),
		domain.ExchangeCredential{ExchangeName: " Binance ", APIKey: "k1", APISecret: "s1"},
		domain.ExchangeCredential{ExchangeName: "KRAKEN", APIKey: "k2"},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(w.saved) != 2 || w.saved[0].ExchangeName != "binance" || w.saved[1].ExchangeName != "kraken" {
		t.Fatalf("saved %+v", w.saved)
	}
	if w.saved[0].APISecret != "s1" {
		t.Fatalf("secret not kept: %+v", w.saved[0])
	}
}

func TestKeysAddRejectsWholeBatch(t *testing.T) {
	w := &memoryWriter{}
	k := NewKeys(w, []string{"binance"}, logger.Discard())

	err := k.Add(context.Background(),
		domain.ExchangeCredential{ExchangeName: "binance"},
		domain.ExchangeCredential{ExchangeName: "ftx"},
	)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(w.saved) != 0 {
		t.Fatalf("partial write: %+v", w.saved)
	}
	if err := k.Add(context.Background()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestKeysAddPropagatesStoreError(t *testing.T) {
	w := &memoryWriter{err: errors.New("db down")}
	k := NewKeys(w, []string{"binance"}, logger.Discard())
	if err := k.Add(context.Background(), domain.ExchangeCredential{ExchangeName: "binance"}); err == nil {
		t.Fatal("expected store error")
	}
	if err := k.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
