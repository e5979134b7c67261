package parley

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/lmittmann/tint"
)

// Registry holds the channel bindings (channel ID -> guild ID) and the
// user/server blacklists, and persists them as a single JSON snapshot file.
//
// Every mutation writes the full snapshot synchronously. The write is
// best-effort: a failure is logged, and the in-memory state remains
// authoritative until the next restart. A missing or corrupt snapshot on
// load yields an empty registry rather than a startup failure.
type Registry struct {
	mu     sync.RWMutex
	path   string
	logger *slog.Logger

	channels           map[string]string
	blacklistedUsers   map[string]struct{}
	blacklistedServers map[string]struct{}
}

// registrySnapshot is the serialized form of a [Registry]
type registrySnapshot struct {
	Channels           map[string]string `json:"channels"`
	BlacklistedUsers   []string          `json:"blacklisted_users"`
	BlacklistedServers []string          `json:"blacklisted_servers"`
}

// NewRegistry returns an empty registry persisting to the given path
func NewRegistry(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		path:               path,
		logger:             logger.With(loggerNameKey, "registry"),
		channels:           map[string]string{},
		blacklistedUsers:   map[string]struct{}{},
		blacklistedServers: map[string]struct{}{},
	}
}

// LoadRegistry loads the snapshot at the given path. If the file is absent
// or can't be parsed, an empty registry is returned and the problem is
// logged - the bot starts regardless.
func LoadRegistry(path string, logger *slog.Logger) *Registry {
	r := NewRegistry(path, logger)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("no registry snapshot found, starting empty", "path", path)
		} else {
			r.logger.Error("error reading registry snapshot", tint.Err(err), "path", path)
		}
		return r
	}

	var snapshot registrySnapshot
	if err = json.Unmarshal(data, &snapshot); err != nil {
		r.logger.Error(
			"corrupt registry snapshot, starting empty",
			tint.Err(err),
			"path", path,
		)
		return r
	}
	r.restore(snapshot)
	r.logger.Info(
		"loaded registry snapshot",
		"path", path,
		"channels", len(r.channels),
		"blacklisted_users", len(r.blacklistedUsers),
		"blacklisted_servers", len(r.blacklistedServers),
	)
	return r
}

// ChannelGuild returns the guild ID bound to the given channel, and whether
// a binding exists
func (r *Registry) ChannelGuild(channelID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	guildID, ok := r.channels[channelID]
	return guildID, ok
}

// BindChannel enables responses in the given channel. Idempotent upsert:
// at most one binding exists per channel ID.
func (r *Registry) BindChannel(channelID string, guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channelID] = guildID
	r.persistLocked()
}

// UnbindChannel removes the binding for the given channel, if any
func (r *Registry) UnbindChannel(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; !ok {
		return
	}
	delete(r.channels, channelID)
	r.persistLocked()
}

// UnbindGuildChannels removes every binding owned by the given guild,
// returning the number removed. Used when a guild becomes unreachable
// (the bot was kicked, or the guild was deleted).
func (r *Registry) UnbindGuildChannels(guildID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for channelID, boundGuild := range r.channels {
		if boundGuild == guildID {
			delete(r.channels, channelID)
			removed++
		}
	}
	if removed > 0 {
		r.persistLocked()
	}
	return removed
}

// UserBlacklisted reports whether the given user ID is blacklisted
func (r *Registry) UserBlacklisted(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blacklistedUsers[userID]
	return ok
}

// BlacklistUser marks the given user ID as globally disallowed from
// triggering responses
func (r *Registry) BlacklistUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklistedUsers[userID] = struct{}{}
	r.persistLocked()
}

// UnblacklistUser removes the given user ID from the blacklist
func (r *Registry) UnblacklistUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blacklistedUsers[userID]; !ok {
		return
	}
	delete(r.blacklistedUsers, userID)
	r.persistLocked()
}

// ServerBlacklisted reports whether the given guild ID is blacklisted
func (r *Registry) ServerBlacklisted(guildID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blacklistedServers[guildID]
	return ok
}

// BlacklistServer marks the given guild ID as globally disallowed
func (r *Registry) BlacklistServer(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklistedServers[guildID] = struct{}{}
	r.persistLocked()
}

// UnblacklistServer removes the given guild ID from the blacklist
func (r *Registry) UnblacklistServer(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blacklistedServers[guildID]; !ok {
		return
	}
	delete(r.blacklistedServers, guildID)
	r.persistLocked()
}

// BlacklistedUsers returns the blacklisted user IDs, sorted
func (r *Registry) BlacklistedUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.blacklistedUsers)
}

// BlacklistedServers returns the blacklisted guild IDs, sorted
func (r *Registry) BlacklistedServers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.blacklistedServers)
}

// BindingCount returns the number of channel bindings
func (r *Registry) BindingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Snapshot returns the registry's serializable form
func (r *Registry) Snapshot() registrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() registrySnapshot {
	channels := make(map[string]string, len(r.channels))
	for channelID, guildID := range r.channels {
		channels[channelID] = guildID
	}
	return registrySnapshot{
		Channels:           channels,
		BlacklistedUsers:   sortedKeys(r.blacklistedUsers),
		BlacklistedServers: sortedKeys(r.blacklistedServers),
	}
}

func (r *Registry) restore(snapshot registrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels = map[string]string{}
	for channelID, guildID := range snapshot.Channels {
		r.channels[channelID] = guildID
	}
	r.blacklistedUsers = map[string]struct{}{}
	for _, userID := range snapshot.BlacklistedUsers {
		r.blacklistedUsers[userID] = struct{}{}
	}
	r.blacklistedServers = map[string]struct{}{}
	for _, guildID := range snapshot.BlacklistedServers {
		r.blacklistedServers[guildID] = struct{}{}
	}
}

// persistLocked writes the full snapshot to disk. Callers must hold the
// write lock. Failures are logged, never returned: the snapshot is
// best-effort and last-write-wins.
func (r *Registry) persistLocked() {
	data, err := json.MarshalIndent(r.snapshotLocked(), "", "  ")
	if err != nil {
		r.logger.Error("error marshaling registry snapshot", tint.Err(err))
		return
	}
	if err = os.WriteFile(r.path, data, 0o600); err != nil {
		r.logger.Error(
			"error writing registry snapshot",
			tint.Err(err),
			"path", r.path,
		)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
