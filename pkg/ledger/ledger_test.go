package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"predex-api/internal/model"
	"predex-api/pkg/engine"
	"predex-api/pkg/ledger"
)

type fakeUsers struct {
	model.UsersModel
	nextID int64
	byName map[string]*model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byName: map[string]*model.User{}}
}

func (f *fakeUsers) GetOrCreate(_ context.Context, username string, initialPoints float64) (*model.User, error) {
	if u, ok := f.byName[username]; ok {
		return u, nil
	}
	f.nextID++
	u := &model.User{ID: f.nextID, Username: username, Points: initialPoints}
	f.byName[username] = u
	return u, nil
}

type fakeLedger struct {
	entries []model.LedgerEntry
}

func (f *fakeLedger) InsertSession(_ context.Context, _ sqlx.Session, entry model.LedgerEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedger) ListByMarket(context.Context, int64, int) ([]*model.LedgerEntry, error) {
	return nil, nil
}

func TestParseMode(t *testing.T) {
	m, err := ledger.ParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, ledger.ModeFull, m)

	_, err = ledger.ParseMode("bogus")
	assert.Error(t, err)
}

func TestWriteBuyOffModeWritesNothing(t *testing.T) {
	fl := &fakeLedger{}
	w := ledger.NewWriter(ledger.ModeOff, fl, newFakeUsers())

	effect := &engine.TradeEffect{
		Result: engine.TradeResult{OrderCost: 5, Quantity: 10, NewBalance: 995},
		Side:   engine.SideYes,
		UserDelta: -5,
		AMMDelta:  5,
	}
	err := w.WriteBuy(context.Background(), nil, 1, 1, effect, time.Now())
	require.NoError(t, err)
	assert.Empty(t, fl.entries)
}

func TestWriteBuyLightModeWritesOnlyUserRow(t *testing.T) {
	fl := &fakeLedger{}
	w := ledger.NewWriter(ledger.ModeLight, fl, newFakeUsers())

	effect := &engine.TradeEffect{
		Result:    engine.TradeResult{OrderCost: 5, Quantity: 10, NewBalance: 995},
		Side:      engine.SideYes,
		UserDelta: -5,
		AMMDelta:  5,
	}
	err := w.WriteBuy(context.Background(), nil, 1, 42, effect, time.Now())
	require.NoError(t, err)
	require.Len(t, fl.entries, 1)
	assert.Equal(t, int64(42), fl.entries[0].UserID)
	assert.Equal(t, "trade buy", fl.entries[0].Reason)
	assert.Equal(t, -5.0, fl.entries[0].Delta)
}

func TestWriteBuyFullModeWritesCounterpartyAndCollateralRows(t *testing.T) {
	fl := &fakeLedger{}
	users := newFakeUsers()
	w := ledger.NewWriter(ledger.ModeFull, fl, users)

	effect := &engine.TradeEffect{
		Result:     engine.TradeResult{OrderCost: 5, Quantity: 10, NewBalance: 995},
		Side:       engine.SideYes,
		UserDelta:  -5,
		AMMDelta:   5,
		Collateral: &engine.CollateralTransfer{Amount: 10, ToHouse: true},
	}
	err := w.WriteBuy(context.Background(), nil, 1, 42, effect, time.Now())
	require.NoError(t, err)
	require.Len(t, fl.entries, 4)

	assert.Equal(t, "trade buy", fl.entries[0].Reason)
	assert.Equal(t, "trade sell", fl.entries[1].Reason)
	assert.Equal(t, "clearing house", fl.entries[2].Reason)
	assert.Equal(t, "clearing house", fl.entries[3].Reason)
	assert.Equal(t, -10.0, fl.entries[2].Delta)
	assert.Equal(t, 10.0, fl.entries[3].Delta)

	ammUser, ok := users.byName[ledger.SystemAMMUsername]
	require.True(t, ok)
	chUser, ok := users.byName[ledger.SystemClearingHouseUsername]
	require.True(t, ok)
	assert.Equal(t, ammUser.ID, fl.entries[1].UserID)
	assert.Equal(t, ammUser.ID, fl.entries[2].UserID)
	assert.Equal(t, chUser.ID, fl.entries[3].UserID)
}

func TestWriteSellFullModeSwapsReasonLabels(t *testing.T) {
	fl := &fakeLedger{}
	w := ledger.NewWriter(ledger.ModeFull, fl, newFakeUsers())

	effect := &engine.TradeEffect{
		Result:    engine.TradeResult{OrderCost: 4, Quantity: 10, NewBalance: 1004},
		Side:      engine.SideYes,
		UserDelta: 4,
		AMMDelta:  -4,
	}
	err := w.WriteSell(context.Background(), nil, 1, 42, effect, time.Now())
	require.NoError(t, err)
	require.Len(t, fl.entries, 2)
	assert.Equal(t, "trade sell", fl.entries[0].Reason)
	assert.Equal(t, "trade buy", fl.entries[1].Reason)
}

func TestSystemActorsMemoizedAcrossWrites(t *testing.T) {
	fl := &fakeLedger{}
	users := newFakeUsers()
	w := ledger.NewWriter(ledger.ModeFull, fl, users)

	effect := &engine.TradeEffect{
		Result:    engine.TradeResult{OrderCost: 1, Quantity: 1, NewBalance: 999},
		Side:      engine.SideYes,
		UserDelta: -1,
		AMMDelta:  1,
	}
	require.NoError(t, w.WriteBuy(context.Background(), nil, 1, 1, effect, time.Now()))
	require.NoError(t, w.WriteBuy(context.Background(), nil, 1, 1, effect, time.Now()))

	assert.Len(t, users.byName, 2) // only AMM + CH created once, not duplicated
}
