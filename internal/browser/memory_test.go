package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
)

func TestMemoryTabs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	first, err := m.Create(ctx, "https://example.org", CreateOptions{})
	require.NoError(t, err)
	second, err := m.Create(ctx, "https://example.com", CreateOptions{Background: true})
	require.NoError(t, err)

	active, ok, err := m.Active(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)

	require.NoError(t, m.Focus(ctx, second.ID))
	active, _, _ = m.Active(ctx, 0)
	assert.Equal(t, second.ID, active.ID)

	found, ok, err := m.FindByURL(ctx, "https://example.org")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.ID, found.ID)

	require.NoError(t, m.Reload(ctx, first.ID, "https://example.org/next"))
	assert.Equal(t, []int{first.ID}, m.Reloads())

	assert.ErrorIs(t, m.Reload(ctx, 99, ""), ErrNoSuchTab)

	m.Close(second.ID)
	_, ok, _ = m.Active(ctx, 0)
	assert.False(t, ok)
}

func TestMemorySendMessage(t *testing.T) {
	ctx := context.Background()
	var gotTab int
	var got message.Notification
	m := NewMemory(func(tabID int, n message.Notification) error {
		gotTab, got = tabID, n
		return nil
	})

	tab, err := m.Create(ctx, "https://example.org", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, m.SendMessage(ctx, tab.ID, message.Notify(events.SettingUpdated, "key")))
	assert.Equal(t, tab.ID, gotTab)
	assert.Equal(t, []any{"event.update.setting.value", "key"}, got.Data)

	assert.ErrorIs(t, m.SendMessage(ctx, 42, message.Notify(events.SettingUpdated)), ErrNoSuchTab)
}
