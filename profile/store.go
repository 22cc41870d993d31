package profile

import (
	"context"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/storage"
)

// StoreSource serves profiles persisted in the embedded store.
type StoreSource struct {
	repo *storage.ProfileRepository
}

func NewStoreSource(repo *storage.ProfileRepository) *StoreSource {
	return &StoreSource{repo: repo}
}

// Put stores the base profile fields of an agent.
func (s *StoreSource) Put(p core.ProfileData) error {
	return s.repo.SaveBase(p)
}

func (s *StoreSource) GetProfile(_ context.Context, agentID string) (core.ProfileData, error) {
	return s.repo.Get(agentID)
}

func (s *StoreSource) UpdateProfile(_ context.Context, agentID string, exp core.Experience) error {
	return s.repo.AppendExperience(agentID, exp)
}

func (s *StoreSource) ProfileVersion(_ context.Context, agentID string) (uint64, error) {
	return s.repo.Version(agentID)
}

// List returns the ids of every stored agent.
func (s *StoreSource) List() ([]string, error) {
	return s.repo.List()
}
