package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestHelper(t *testing.T, prefix string) (*CacheHelper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheHelper(client, prefix), mr
}

type cachedStats struct {
	TotalAttempts int     `json:"total_attempts"`
	AverageScore  float64 `json:"average_score"`
}

func TestCacheHelper_SetGet(t *testing.T) {
	helper, _ := newTestHelper(t, "stats:")
	ctx := context.Background()

	in := cachedStats{TotalAttempts: 12, AverageScore: 74.5}
	if err := helper.Set(ctx, "test:1", in, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var out cachedStats
	if err := helper.Get(ctx, "test:1", &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if out != in {
		t.Errorf("Get() = %+v, want %+v", out, in)
	}
}

func TestCacheHelper_GetMiss(t *testing.T) {
	helper, _ := newTestHelper(t, "stats:")

	var out cachedStats
	if err := helper.Get(context.Background(), "missing", &out); err != ErrCacheNotFound {
		t.Errorf("Get() error = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelper_NilClient(t *testing.T) {
	helper := NewCacheHelper(nil, "stats:")
	ctx := context.Background()

	if err := helper.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Errorf("Set() with nil client error = %v, want nil", err)
	}
	var out string
	if err := helper.Get(ctx, "k", &out); err != ErrCacheNotAvailable {
		t.Errorf("Get() with nil client error = %v, want ErrCacheNotAvailable", err)
	}
	if err := helper.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() with nil client error = %v, want nil", err)
	}
}

func TestCacheHelper_InvalidatePattern(t *testing.T) {
	helper, mr := newTestHelper(t, "attempt:")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := helper.Set(ctx, fmt.Sprintf("history:7:user-1:%d", i), i, time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	if err := helper.Set(ctx, "history:8:user-1:0", 0, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := helper.InvalidatePattern(ctx, "history:7:user-1*"); err != nil {
		t.Fatalf("InvalidatePattern() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if mr.Exists(fmt.Sprintf("attempt:history:7:user-1:%d", i)) {
			t.Errorf("key %d still exists after invalidation", i)
		}
	}
	if !mr.Exists("attempt:history:8:user-1:0") {
		t.Error("unrelated key was removed")
	}
}

func TestCacheManager_NilClientDegrades(t *testing.T) {
	cm := NewCacheManager(nil)
	ctx := context.Background()

	if err := cm.HealthCheck(ctx); err != ErrCacheNotAvailable {
		t.Errorf("HealthCheck() = %v, want ErrCacheNotAvailable", err)
	}
	if err := cm.InvalidateTest(ctx, 1); err != nil {
		t.Errorf("InvalidateTest() with nil client error = %v, want nil", err)
	}
}

func TestCacheManager_InvalidateAttempt(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cm := NewCacheManager(client)
	ctx := context.Background()

	if err := cm.Attempt.Set(ctx, "id:42", "cached", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cm.Attempt.Set(ctx, "history:7:user-1:page1", "cached", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := cm.InvalidateAttempt(ctx, 42, 7, "user-1"); err != nil {
		t.Fatalf("InvalidateAttempt() error = %v", err)
	}

	if mr.Exists("attempt:id:42") {
		t.Error("attempt key still exists")
	}
	if mr.Exists("attempt:history:7:user-1:page1") {
		t.Error("history key still exists")
	}
}
