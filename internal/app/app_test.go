package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/resale/internal/config"
	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Redis.Enabled = false
	cfg.Auth.GatewayKey = "gw"
	return &cfg
}

func TestWireMemoryWithoutRedis(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), WireOptions{}, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Store{}, deps.Store)
	assert.Nil(t, deps.Cache)
	assert.Nil(t, deps.Locks)
	assert.Nil(t, deps.Bus)
	assert.Nil(t, deps.Blobs)
	assert.Nil(t, deps.Alerts)
	assert.Empty(t, deps.Checks)
}

func TestBuildServicesSellsThroughDispatcher(t *testing.T) {
	ctx := context.Background()
	a := New(memoryConfig(), testLogger())
	deps, err := a.wire(ctx, WireOptions{})
	require.NoError(t, err)
	defer a.Close()

	svc := a.buildServices(deps)
	assert.Nil(t, svc.Archive, "no archive job without object storage")

	seller := domain.Principal{UserID: "seller", Role: domain.RoleMember}
	buyout := domain.MustParseMoney("40")
	view, err := svc.Listings.CreateListing(ctx, seller, domain.NewListing{
		Title:       "Desk lamp",
		BasePrice:   domain.MustParseMoney("25"),
		BuyoutPrice: &buyout,
	})
	require.NoError(t, err)

	p, err := svc.Buyouts.Buyout(ctx, view.Listing.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, buyout, p.Amount)

	l, err := deps.Store.Listings().GetByID(ctx, view.Listing.ID)
	require.NoError(t, err)
	assert.True(t, l.IsSold())
}

func TestBuildNotifier(t *testing.T) {
	n, err := buildNotifier(config.NotifyConfig{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = buildNotifier(config.NotifyConfig{DiscordWebhookURL: "https://discord.invalid/hook"}, testLogger())
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.Enabled())
}
