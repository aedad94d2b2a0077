package services

import (
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/repository"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"github.com/nimasrn/loyalty-engine/test/helpers"
	"github.com/shopspring/decimal"
)

// testClock is a settable time source shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServices struct {
	db           *pg.DB
	clock        *testClock
	registry     *RegistryService
	deals        *DealService
	ledger       *LedgerService
	satisfaction *SatisfactionService
	engine       *Engine
}

// newTestServices wires every service against a fresh sqlite database with
// the default 5% accrual rate.
func newTestServices(t *testing.T) *testServices {
	db := helpers.SetupTestDB(t)
	clock := newTestClock()

	clients := repository.NewClientRepository(db)
	partners := repository.NewPartnerRepository(db)
	transactions := repository.NewTransactionRepository(db)

	registry := NewRegistryService(clients, partners)
	deals := NewDealService(repository.NewDealRepository(db), registry).WithClock(clock.Now)
	ledger := NewLedgerService(db, clients, transactions, deals, NewRatePolicy(decimal.RequireFromString("0.05"))).WithClock(clock.Now)
	satisfaction := NewSatisfactionService(repository.NewNPSRepository(db), transactions)

	return &testServices{
		db:           db,
		clock:        clock,
		registry:     registry,
		deals:        deals,
		ledger:       ledger,
		satisfaction: satisfaction,
		engine:       NewEngine(registry, deals, ledger, satisfaction),
	}
}
