package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/repository"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"github.com/nimasrn/loyalty-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB opens a private in-memory sqlite database with the full
// schema. A single connection serialises concurrent writers the way row
// locks do on postgres.
func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(repository.Entities()...))
	return pg.New(db, db)
}

// SetupTestRedis starts a miniredis server that lives for the test. The
// adapter is not registered globally, so parallel tests never share it.
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.Wrap("", client)
}

func CreateTestPartner(t *testing.T, db *pg.DB, chatID string, status model.PartnerStatus) *model.Partner {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewPartnerRepository(db)
	_, _, err := repo.Upsert(ctx, chatID, model.PartnerProfile{
		Name:        Ptr("partner " + chatID),
		CompanyName: Ptr("company " + chatID),
	})
	require.NoError(t, err)
	if status != model.PartnerStatusPending {
		require.NoError(t, repo.SetStatus(ctx, chatID, status))
	}
	p, err := repo.FindByChatID(ctx, chatID)
	require.NoError(t, err)
	return p
}

func CreateTestClient(t *testing.T, db *pg.DB, chatID string) *model.Client {
	t.Helper()
	c, _, err := repository.NewClientRepository(db).Upsert(context.Background(), chatID, model.ClientProfile{
		Name: Ptr("client " + chatID),
	})
	require.NoError(t, err)
	return c
}

// ForceBalance overwrites the cached counter without touching the log,
// which is how drift looks to the reconciler.
func ForceBalance(t *testing.T, db *pg.DB, chatID string, balance int64) {
	t.Helper()
	err := db.Write(context.Background()).
		Model(&repository.ClientEntity{}).
		Where("chat_id = ?", chatID).
		Update("balance", balance).Error
	require.NoError(t, err)
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
