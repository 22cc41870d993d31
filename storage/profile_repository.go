package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/NatureBlueee/Towow-sub000/core"
)

const (
	profilePrefix    = "profile:"
	experiencePrefix = "exp:"
	versionPrefix    = "pver:"

	maxConflictRetries = 5
)

// ProfileRepository persists profiles as a base document plus an append-only
// experience log. The version counter moves with every write so projections
// keyed by it are invalidated.
type ProfileRepository struct {
	db *DBStorage
}

func NewProfileRepository(db *DBStorage) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func versionKey(agentID string) []byte {
	return []byte(versionPrefix + agentID)
}

func experienceKey(agentID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", experiencePrefix, agentID, seq))
}

func readVersion(txn *badger.Txn, agentID string) (uint64, error) {
	item, err := txn.Get(versionKey(agentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(val), 10, 64)
}

// update retries fn on transaction conflicts between concurrent writers.
func (r *ProfileRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// SaveBase stores the base profile fields of an agent. Experiences in p are
// ignored; they are only ever appended through AppendExperience.
func (r *ProfileRepository) SaveBase(p core.ProfileData) error {
	if p.AgentID == "" {
		return fmt.Errorf("profile has no agent id")
	}
	p.Experiences = nil
	p.Version = 0
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	return r.update(func(txn *badger.Txn) error {
		v, err := readVersion(txn, p.AgentID)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(profilePrefix+p.AgentID), data); err != nil {
			return err
		}
		return txn.Set(versionKey(p.AgentID), []byte(strconv.FormatUint(v+1, 10)))
	})
}

// AppendExperience appends exp to the agent's log.
func (r *ProfileRepository) AppendExperience(agentID string, exp core.Experience) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal experience: %w", err)
	}
	return r.update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(profilePrefix + agentID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: profile %s", core.ErrNotFound, agentID)
			}
			return err
		}
		v, err := readVersion(txn, agentID)
		if err != nil {
			return err
		}
		next := v + 1
		if err := txn.Set(experienceKey(agentID, next), data); err != nil {
			return err
		}
		return txn.Set(versionKey(agentID), []byte(strconv.FormatUint(next, 10)))
	})
}

// Get assembles the base profile, its experiences in append order and the
// current version.
func (r *ProfileRepository) Get(agentID string) (core.ProfileData, error) {
	var p core.ProfileData
	if err := r.db.GetObject(profilePrefix+agentID, &p); err != nil {
		return core.ProfileData{}, err
	}

	entries, err := r.db.GetByPrefix(experiencePrefix + agentID + ":")
	if err != nil {
		return core.ProfileData{}, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var exp core.Experience
		if err := json.Unmarshal(entries[k], &exp); err != nil {
			return core.ProfileData{}, fmt.Errorf("corrupt experience %s: %w", k, err)
		}
		p.Experiences = append(p.Experiences, exp)
	}

	raw, err := r.db.Get(versionPrefix + agentID)
	if err != nil {
		return core.ProfileData{}, err
	}
	if raw != nil {
		if p.Version, err = strconv.ParseUint(string(raw), 10, 64); err != nil {
			return core.ProfileData{}, fmt.Errorf("corrupt version for %s: %w", agentID, err)
		}
	}
	return p, nil
}

// Version reads only the version counter of an agent's profile.
func (r *ProfileRepository) Version(agentID string) (uint64, error) {
	raw, err := r.db.Get(versionPrefix + agentID)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, fmt.Errorf("%w: profile %s", core.ErrNotFound, agentID)
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt version for %s: %w", agentID, err)
	}
	return v, nil
}

// List returns the ids of every stored profile.
func (r *ProfileRepository) List() ([]string, error) {
	keys, err := r.db.KeysByPrefix(profilePrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, profilePrefix)
	}
	return ids, nil
}
