package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pipacs/shop/config"
	"github.com/pipacs/shop/entitlement"
	"github.com/pipacs/shop/entitlement/boltstore"
	"github.com/pipacs/shop/entitlement/redisstore"
	"github.com/pipacs/shop/platform"
	"github.com/pipacs/shop/platform/sandbox"
	"github.com/pipacs/shop/shop"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(cfg config.Config) (entitlement.Store, io.Closer, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory:
		return entitlement.NewMemory(), nopCloser{}, nil
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := redisstore.Dial(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		s.WithScanPattern(scanPattern(cfg))
		return s, s, nil
	default:
		db, err := boltstore.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	}
}

// scanPattern matches the keys shop.New writes for cfg.KeyPrefix.
func scanPattern(cfg config.Config) string {
	return entitlement.ScopePrefix(cfg.KeyPrefix) + ".*"
}

// openShop builds a shop over the configured store. Without p it talks to
// an offline sandbox, which is enough for the local-only commands.
func (e *env) openShop(p platform.Platform, v shop.ReceiptVerifier) (*shop.Shop, func(), error) {
	store, closer, err := openStore(e.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", e.cfg.Backend, err)
	}
	var sb *sandbox.Sandbox
	if p == nil {
		sb = sandbox.New(sandbox.Options{Logger: e.logger})
		p = sb
	}
	s, err := shop.New(shop.Options{
		Consumables:    e.cfg.Consumables,
		NonConsumables: e.cfg.NonConsumables,
		Store:          store,
		KeyPrefix:      e.cfg.KeyPrefix,
		Platform:       p,
		Verifier:       v,
		Logger:         e.logger,
	})
	if err != nil {
		_ = closer.Close()
		if sb != nil {
			_ = sb.Close()
		}
		return nil, nil, err
	}
	cleanup := func() {
		_ = s.Close()
		if sb != nil {
			_ = sb.Close()
		}
		_ = closer.Close()
	}
	return s, cleanup, nil
}
