package hedge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"hl-hedger/internal/alerts"
	"hl-hedger/internal/venue"

	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type transferCall struct {
	Address   string
	IsDeposit bool
	Amount    int64
}

type renameCall struct {
	Address string
	From    string
	To      string
}

type fakeVenue struct {
	mu    sync.Mutex
	clock *fakeClock

	withdrawable   decimal.Decimal
	subs           []venue.Subaccount
	createdAddr    string
	claimConflicts int
	assets         map[string]int
	placeStatus    venue.OrderStatus
	placeErr       error
	orderStates    []venue.OrderState
	position       *venue.Position
	transferErr    error
	withdrawErr    error
	renameErr      error

	calls     []string
	transfers []transferCall
	renames   []renameCall
	creates   []string
	orders    []venue.Order
	vaults    []string
	placedAt  time.Time
	pollTimes []time.Duration
}

func newFakeVenue(clock *fakeClock) *fakeVenue {
	return &fakeVenue{
		clock:        clock,
		withdrawable: decimal.NewFromInt(300),
		createdAddr:  "0x00000000000000000000000000000000000000c1",
		assets:       map[string]int{"BTC": 0, "ETH": 1},
	}
}

func (f *fakeVenue) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeVenue) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeVenue) AccountState(_ context.Context, _ string) (venue.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AccountState")
	return venue.AccountState{Withdrawable: f.withdrawable}, nil
}

func (f *fakeVenue) ListSubaccounts(_ context.Context, owner string) ([]venue.Subaccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListSubaccounts")
	out := make([]venue.Subaccount, len(f.subs))
	copy(out, f.subs)
	return out, nil
}

func (f *fakeVenue) rename(address, name string) {
	for i := range f.subs {
		if strings.EqualFold(f.subs[i].Address, address) {
			f.renames = append(f.renames, renameCall{Address: address, From: f.subs[i].Name, To: name})
			f.subs[i].Name = name
			return
		}
	}
}

func (f *fakeVenue) RenameSubaccount(_ context.Context, _, address, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RenameSubaccount")
	if f.renameErr != nil {
		return f.renameErr
	}
	f.rename(address, name)
	return nil
}

func (f *fakeVenue) ClaimSubaccount(_ context.Context, _, address, expectedName, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ClaimSubaccount")
	if f.claimConflicts > 0 {
		f.claimConflicts--
		f.rename(address, "mc-elsewhere")
		return fmt.Errorf("%w: taken", venue.ErrClaimConflict)
	}
	for _, sub := range f.subs {
		if strings.EqualFold(sub.Address, address) && sub.Name != expectedName {
			return venue.ErrClaimConflict
		}
	}
	f.rename(address, name)
	return nil
}

func (f *fakeVenue) CreateSubaccount(_ context.Context, owner, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSubaccount")
	f.creates = append(f.creates, name)
	f.subs = append(f.subs, venue.Subaccount{Address: f.createdAddr, Name: name, Owner: owner})
	return f.createdAddr, nil
}

func (f *fakeVenue) TransferMargin(_ context.Context, _, address string, isDeposit bool, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TransferMargin")
	if isDeposit && f.transferErr != nil {
		return f.transferErr
	}
	if !isDeposit && f.withdrawErr != nil {
		return f.withdrawErr
	}
	f.transfers = append(f.transfers, transferCall{Address: address, IsDeposit: isDeposit, Amount: amount})
	return nil
}

func (f *fakeVenue) ResolveAssetIndex(_ context.Context, coin string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ResolveAssetIndex")
	idx, ok := f.assets[coin]
	if !ok {
		return 0, fmt.Errorf("%w: %s", venue.ErrAssetNotFound, coin)
	}
	return idx, nil
}

func (f *fakeVenue) PlaceOrder(_ context.Context, _ string, order venue.Order, vault string) (venue.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PlaceOrder")
	f.orders = append(f.orders, order)
	f.vaults = append(f.vaults, vault)
	f.placedAt = f.clock.Now()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.placeStatus, nil
}

func (f *fakeVenue) OrderState(_ context.Context, _ string, _ int64) (venue.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("OrderState")
	f.pollTimes = append(f.pollTimes, f.clock.Now().Sub(f.placedAt))
	if len(f.orderStates) == 0 {
		return venue.OrderState{
			Known:         true,
			Status:        "open",
			RemainingSize: decimal.NewFromInt(1),
			OriginalSize:  decimal.NewFromInt(1),
		}, nil
	}
	state := f.orderStates[0]
	if len(f.orderStates) > 1 {
		f.orderStates = f.orderStates[1:]
	}
	return state, nil
}

func (f *fakeVenue) Position(_ context.Context, _, _ string) (venue.Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Position")
	if f.position == nil {
		return venue.Position{}, false, nil
	}
	return *f.position, true, nil
}

type fakeWallets struct {
	err error
}

func (w fakeWallets) Check(context.Context, string) error { return w.err }

type fakeAlerter struct {
	mu       sync.Mutex
	events   []alerts.Event
	messages []string
}

func (a *fakeAlerter) Notify(_ context.Context, ev alerts.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	a.messages = append(a.messages, ev.Text())
	return nil
}

type fakeAudit struct {
	states []*State
}

func (a *fakeAudit) Record(st *State) {
	a.states = append(a.states, st)
}
