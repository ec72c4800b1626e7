package application

import (
	"context"

	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/utils"
)

// ProfileService provides operations on connection profiles and
// profile-scoped topic browsing.
type ProfileService struct {
	repo    domain.ProfileRepository
	factory domain.ClientFactory
}

// NewProfileService creates a new profile service.
func NewProfileService(repo domain.ProfileRepository, factory domain.ClientFactory) *ProfileService {
	return &ProfileService{repo: repo, factory: factory}
}

// ListProfiles lists all connection profiles.
func (s *ProfileService) ListProfiles() []config.ConnectionProfile {
	return s.repo.FindAll()
}

// GetProfile retrieves a connection profile by name.
func (s *ProfileService) GetProfile(name string) (config.ConnectionProfile, bool) {
	return s.repo.FindByName(name)
}

// AddProfile adds a new connection profile.
func (s *ProfileService) AddProfile(cfg config.ConnectionProfile) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.repo.Save(cfg)
}

// UpdateProfile updates an existing connection profile.
func (s *ProfileService) UpdateProfile(name string, cfg config.ConnectionProfile) error {
	if _, ok := s.repo.FindByName(name); !ok {
		return ErrProfileNotFound
	}
	cfg.Name = name
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.repo.Save(cfg)
}

// DeleteProfile removes a connection profile.
func (s *ProfileService) DeleteProfile(name string) error {
	if _, ok := s.repo.FindByName(name); !ok {
		return ErrProfileNotFound
	}
	return s.repo.Delete(name)
}

// IsOnline reports whether the profile's cluster answers metadata requests.
func (s *ProfileService) IsOnline(name string) (bool, error) {
	cfg, ok := s.repo.FindByName(name)
	if !ok {
		return false, ErrProfileNotFound
	}
	meta, err := s.factory.CreateMetadata(cfg)
	if err != nil {
		utils.Logger.Warn("profile health check failed to connect", "profile", name, "err", err)
		return false, nil
	}
	defer meta.Close()
	return meta.IsHealthy(), nil
}

// ListTopics lists the profile's topics as a name to partition-count map.
func (s *ProfileService) ListTopics(ctx context.Context, name string, showInternal bool) (map[string]int, error) {
	cfg, ok := s.repo.FindByName(name)
	if !ok {
		return nil, ErrProfileNotFound
	}
	meta, err := s.factory.CreateMetadata(cfg)
	if err != nil {
		return nil, err
	}
	defer meta.Close()
	return meta.ListTopics(ctx, showInternal)
}

// DescribeTopic returns the current watermark snapshot for one topic. A
// fresh snapshot reflects records produced since a session was planned.
func (s *ProfileService) DescribeTopic(ctx context.Context, name, topic string) (domain.TopicDescriptor, error) {
	cfg, ok := s.repo.FindByName(name)
	if !ok {
		return domain.TopicDescriptor{}, ErrProfileNotFound
	}
	meta, err := s.factory.CreateMetadata(cfg)
	if err != nil {
		return domain.TopicDescriptor{}, err
	}
	defer meta.Close()
	return meta.DescribeTopic(ctx, topic)
}
