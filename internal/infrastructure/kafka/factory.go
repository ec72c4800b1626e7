package kafka

import (
	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
)

// Factory creates fetchers bound to one connection profile.
type Factory struct {
	profile config.ConnectionProfile
	engine  config.EngineConfig
}

var _ domain.FetcherFactory = (*Factory)(nil)

// NewFactory creates a fetcher factory for a profile.
func NewFactory(profile config.ConnectionProfile, engine config.EngineConfig) *Factory {
	return &Factory{profile: profile, engine: engine}
}

// NewFetcher opens a live connection consuming the given ranges.
func (f *Factory) NewFetcher(topic string, ranges map[int32]domain.OffsetRange) (domain.Fetcher, error) {
	return NewFetcher(f.profile, f.engine, topic, ranges)
}

// ClientFactory builds metadata clients and fetcher factories from
// connection profiles.
type ClientFactory struct {
	engine config.EngineConfig
}

var _ domain.ClientFactory = (*ClientFactory)(nil)

// NewClientFactory creates a client factory.
func NewClientFactory(engine config.EngineConfig) *ClientFactory {
	return &ClientFactory{engine: engine}
}

// CreateMetadata opens a metadata client for the profile.
func (f *ClientFactory) CreateMetadata(cfg config.ConnectionProfile) (domain.MetadataClient, error) {
	return NewMetadataClient(cfg)
}

// CreateFetcherFactory returns a fetcher factory bound to the profile.
func (f *ClientFactory) CreateFetcherFactory(cfg config.ConnectionProfile) domain.FetcherFactory {
	return NewFactory(cfg, f.engine)
}
