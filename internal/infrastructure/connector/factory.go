package connector

import (
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
)

// NewExtractor builds the extractor selected by cfg.Driver.
func NewExtractor(cfg config.SourceConfig, opts ...Option) (integration.Extractor, error) {
	switch cfg.Driver {
	case "fake":
		return NewFakeSource(FakeSourceConfig{Seed: cfg.FakeSeed, Records: cfg.FakeRecords}), nil
	case "http", "":
		client, err := NewSourceClient(ClientConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("connector: unsupported source driver %q", cfg.Driver)
	}
}

// NewLoader builds the target client.
func NewLoader(cfg config.TargetConfig, opts ...Option) (integration.Loader, error) {
	client, err := NewTargetClient(ClientConfig{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

