package parley

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshotPath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "parley.json")
}

func TestRegistryBindUnbindChannel(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(testSnapshotPath(t), nil)

	_, ok := reg.ChannelGuild("chan-1")
	assert.False(t, ok)

	reg.BindChannel("chan-1", "guild-1")
	guildID, ok := reg.ChannelGuild("chan-1")
	require.True(t, ok)
	assert.Equal(t, "guild-1", guildID)

	// upsert: binding again moves the channel to the new guild, no duplicate
	reg.BindChannel("chan-1", "guild-2")
	guildID, ok = reg.ChannelGuild("chan-1")
	require.True(t, ok)
	assert.Equal(t, "guild-2", guildID)
	assert.Equal(t, 1, reg.BindingCount())

	reg.UnbindChannel("chan-1")
	_, ok = reg.ChannelGuild("chan-1")
	assert.False(t, ok)

	// unbinding an absent channel is a no-op
	reg.UnbindChannel("chan-1")
	assert.Equal(t, 0, reg.BindingCount())
}

func TestRegistryUnbindGuildChannels(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(testSnapshotPath(t), nil)

	reg.BindChannel("chan-1", "guild-a")
	reg.BindChannel("chan-2", "guild-a")
	reg.BindChannel("chan-3", "guild-b")

	removed := reg.UnbindGuildChannels("guild-a")
	assert.Equal(t, 2, removed)

	_, ok := reg.ChannelGuild("chan-1")
	assert.False(t, ok)
	_, ok = reg.ChannelGuild("chan-2")
	assert.False(t, ok)

	guildID, ok := reg.ChannelGuild("chan-3")
	require.True(t, ok)
	assert.Equal(t, "guild-b", guildID)

	assert.Equal(t, 0, reg.UnbindGuildChannels("guild-a"))
}

func TestRegistryBlacklists(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(testSnapshotPath(t), nil)

	assert.False(t, reg.UserBlacklisted("123"))
	reg.BlacklistUser("123")
	reg.BlacklistUser("045")
	assert.True(t, reg.UserBlacklisted("123"))
	assert.Equal(t, []string{"045", "123"}, reg.BlacklistedUsers())

	reg.UnblacklistUser("123")
	assert.False(t, reg.UserBlacklisted("123"))

	assert.False(t, reg.ServerBlacklisted("guild-1"))
	reg.BlacklistServer("guild-1")
	assert.True(t, reg.ServerBlacklisted("guild-1"))
	assert.Equal(t, []string{"guild-1"}, reg.BlacklistedServers())

	reg.UnblacklistServer("guild-1")
	assert.False(t, reg.ServerBlacklisted("guild-1"))
}

func TestRegistryLoadMissingSnapshot(t *testing.T) {
	t.Parallel()
	path := testSnapshotPath(t)

	reg := LoadRegistry(path, nil)
	assert.Equal(t, 0, reg.BindingCount())
	assert.Empty(t, reg.BlacklistedUsers())
	assert.Empty(t, reg.BlacklistedServers())

	// first mutation persists, and a simulated restart recovers it
	reg.BindChannel("chan-1", "guild-1")
	reg.BlacklistUser("123")

	reloaded := LoadRegistry(path, nil)
	guildID, ok := reloaded.ChannelGuild("chan-1")
	require.True(t, ok)
	assert.Equal(t, "guild-1", guildID)
	assert.True(t, reloaded.UserBlacklisted("123"))
}

func TestRegistryLoadCorruptSnapshot(t *testing.T) {
	t.Parallel()
	path := testSnapshotPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	reg := LoadRegistry(path, nil)
	assert.Equal(t, 0, reg.BindingCount())
	assert.Empty(t, reg.BlacklistedUsers())
	assert.Empty(t, reg.BlacklistedServers())
}

func TestRegistryPersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	// a directory path makes every snapshot write fail
	reg := NewRegistry(t.TempDir(), nil)

	reg.BindChannel("chan-1", "guild-1")

	// in-memory state stays authoritative
	guildID, ok := reg.ChannelGuild("chan-1")
	require.True(t, ok)
	assert.Equal(t, "guild-1", guildID)
}

func TestRegistrySnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(testSnapshotPath(t), nil)
	reg.BindChannel("chan-1", "guild-1")
	reg.BlacklistUser("123")
	reg.BlacklistServer("guild-2")

	snapshot := reg.Snapshot()
	assert.Equal(t, map[string]string{"chan-1": "guild-1"}, snapshot.Channels)
	assert.Equal(t, []string{"123"}, snapshot.BlacklistedUsers)
	assert.Equal(t, []string{"guild-2"}, snapshot.BlacklistedServers)

	restored := NewRegistry(testSnapshotPath(t), nil)
	restored.restore(snapshot)
	guildID, ok := restored.ChannelGuild("chan-1")
	require.True(t, ok)
	assert.Equal(t, "guild-1", guildID)
	assert.True(t, restored.UserBlacklisted("123"))
	assert.True(t, restored.ServerBlacklisted("guild-2"))
}
