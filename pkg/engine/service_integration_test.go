//go:build integration
// +build integration

package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	appconfig "predex-api/internal/config"
	"predex-api/internal/model"
	"predex-api/pkg/engine"
	"predex-api/pkg/ledger"
)

// newIntegrationService wires a real Postgres-backed engine.Service, the way
// internal/repo/storage_integration_test.go wires a real ServiceContext.
// Loads the config file via appconfig.MustLoad (which panics if it cannot be
// loaded) and needs its postgres.dataSource to point at a reachable, migrated
// database; skips only when that dataSource is empty.
func newIntegrationService(t *testing.T) (*engine.Service, sqlx.SqlConn) {
	t.Helper()
	cfg := appconfig.MustLoad()
	if cfg.Postgres.DataSource == "" {
		t.Skip("postgres.dataSource not configured; skipping integration test")
	}
	conn := sqlx.NewSqlConn("pgx", cfg.Postgres.DataSource)

	users := model.NewUsersModel(conn)
	markets := model.NewMarketsModel(conn)
	amms := model.NewAMMsModel(conn)
	clearingHouses := model.NewClearingHousesModel(conn)
	positions := model.NewPositionsModel(conn)
	ledgerModel := model.NewLedgerModel(conn)
	writer := ledger.NewWriter(ledger.ModeFull, ledgerModel, users)

	return engine.NewService(conn, users, markets, amms, clearingHouses, positions, writer), conn
}

// TestScenarioS1Integration exercises spec.md §8 S1 end to end: buy 10 YES
// on a fresh market, b=20, default reserves.
func TestScenarioS1Integration(t *testing.T) {
	svc, _ := newIntegrationService(t)
	ctx := context.Background()

	marketName := uniqueName(t, "s1-market")
	username := uniqueName(t, "s1-user")

	_, err := svc.GetOrCreateUser(ctx, username, 1000)
	require.NoError(t, err)
	_, err = svc.GetOrCreateMarket(ctx, marketName, 20, 10000)
	require.NoError(t, err)

	result, err := svc.Buy(ctx, marketName, username, engine.SideYes, 10, 0, engine.AlwaysVisible)
	require.NoError(t, err)
	assert.InDelta(t, 5.125, result.OrderCost, 0.01)
	assert.InDelta(t, 0.6225, result.NewPrice, 0.01)
	assert.InDelta(t, 1000-5.125, result.NewBalance, 0.01)
}

// TestScenarioS4RoundTripIntegration exercises spec.md §8 S4: buy then sell
// the same quantity returns the price to its starting point and leaves a
// strictly non-negative spread cost for the user.
func TestScenarioS4RoundTripIntegration(t *testing.T) {
	svc, _ := newIntegrationService(t)
	ctx := context.Background()

	marketName := uniqueName(t, "s4-market")
	username := uniqueName(t, "s4-user")

	_, err := svc.GetOrCreateUser(ctx, username, 1000)
	require.NoError(t, err)
	_, err = svc.GetOrCreateMarket(ctx, marketName, 20, 10000)
	require.NoError(t, err)

	_, err = svc.Buy(ctx, marketName, username, engine.SideYes, 10, 0, engine.AlwaysVisible)
	require.NoError(t, err)
	sellResult, err := svc.Sell(ctx, marketName, username, engine.SideYes, 10, 0, engine.AlwaysVisible)
	require.NoError(t, err)

	assert.Less(t, sellResult.NewBalance, 1000.0)
	assert.InDelta(t, 0.5, sellResult.NewPrice, 0.01)
}

// TestScenarioS5SettlementIntegration exercises spec.md §8 S5: settlement
// credits winners and freezes the market against further trades.
func TestScenarioS5SettlementIntegration(t *testing.T) {
	svc, _ := newIntegrationService(t)
	ctx := context.Background()

	marketName := uniqueName(t, "s5-market")
	alice := uniqueName(t, "s5-alice")
	bob := uniqueName(t, "s5-bob")

	for _, u := range []string{alice, bob} {
		_, err := svc.GetOrCreateUser(ctx, u, 1000)
		require.NoError(t, err)
	}
	_, err := svc.GetOrCreateMarket(ctx, marketName, 20, 10000)
	require.NoError(t, err)

	_, err = svc.Buy(ctx, marketName, alice, engine.SideYes, 5, 0, engine.AlwaysVisible)
	require.NoError(t, err)
	_, err = svc.Buy(ctx, marketName, bob, engine.SideYes, 3, 0, engine.AlwaysVisible)
	require.NoError(t, err)

	settled, err := svc.Settle(ctx, marketName, engine.SideYes)
	require.NoError(t, err)
	assert.Equal(t, marketName, settled.MarketName)
	assert.Equal(t, engine.SideYes, settled.Outcome)

	_, err = svc.Buy(ctx, marketName, alice, engine.SideYes, 1, 0, engine.AlwaysVisible)
	assert.ErrorIs(t, err, engine.ErrMarketSettled)
}

func uniqueName(t *testing.T, prefix string) string {
	t.Helper()
	return prefix + "-" + t.Name()
}
