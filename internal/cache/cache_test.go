package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/opensource-finance/farehawk/internal/domain"
)

func testRun(id string) *domain.DetectionRun {
	trip := &domain.Trip{
		ID:          "trip-001",
		Timestamp:   time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		DistanceKm:  0.2,
		DurationMin: 3,
		Fare:        40,
		SpeedKmh:    4,
		Passengers:  1,
	}
	return &domain.DetectionRun{
		ID:        id,
		TenantID:  "tenant-001",
		CreatedAt: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		Report: domain.AnomalyReport{
			Records:       []domain.Anomaly{{Trip: trip, Type: domain.AnomalyRatio, Reason: "Fare per km $200.00 is very high"}},
			TotalAnalyzed: 12,
			ElapsedMs:     0.4,
		},
	}
}

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, tenantID, "expiring", []byte("temp"), time.Minute)

		val, _ := c.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Minute)

		val, _ = c.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry to be dropped, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// 'a' becomes most recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}

		size, capacity := smallCache.Stats()
		if size != 3 || capacity != 3 {
			t.Errorf("expected 3/3, got %d/%d", size, capacity)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, err := cache.GetReport(ctx, ""); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Report", func(t *testing.T) {
		got, err := cache.GetReport(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got != nil {
			t.Fatal("expected miss before SetReport")
		}

		if err := cache.SetReport(ctx, tenantID, testRun("run-001"), time.Minute); err != nil {
			t.Fatalf("SetReport failed: %v", err)
		}

		got, err = cache.GetReport(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got.ID != "run-001" || got.Report.Count() != 1 || got.Report.TotalAnalyzed != 12 {
			t.Errorf("unexpected cached run %+v", got)
		}
		if got.Report.Records[0].TripID() != "trip-001" {
			t.Errorf("expected trip-001, got %s", got.Report.Records[0].TripID())
		}

		other, _ := cache.GetReport(ctx, "tenant-002")
		if other != nil {
			t.Error("expected no report for other tenant")
		}

		if err := cache.SetReport(ctx, tenantID, nil, time.Minute); err == nil {
			t.Error("expected error for nil run")
		}
	})
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		if !mr.Exists("farehawk:tenant-001:key1") {
			t.Error("expected prefixed key in redis")
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), time.Second)

		mr.FastForward(2 * time.Second)

		val, err := cache.Get(ctx, tenantID, "expiring")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)
		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if mr.Exists("farehawk:tenant-001:key2") {
			t.Error("expected key removed from redis")
		}
	})

	t.Run("Report", func(t *testing.T) {
		if err := cache.SetReport(ctx, tenantID, testRun("run-002"), time.Minute); err != nil {
			t.Fatalf("SetReport failed: %v", err)
		}

		got, err := cache.GetReport(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got == nil || got.ID != "run-002" {
			t.Fatalf("expected run-002, got %+v", got)
		}
		if got.Report.Records[0].Type != domain.AnomalyRatio {
			t.Errorf("expected ratio record, got %s", got.Report.Records[0].Type)
		}
	})

	t.Run("CorruptReport", func(t *testing.T) {
		mr.Set("farehawk:tenant-003:"+domain.ReportCacheKey, "not json")
		if _, err := cache.GetReport(ctx, "tenant-003"); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	cache, err := NewTwoPhaseCache(domain.CacheConfig{
		Type:           "redis",
		RedisAddr:      mr.Addr(),
		EnableTwoPhase: true,
		LocalMaxSize:   10,
		LocalTTL:       time.Minute,
	})
	if err != nil {
		t.Fatalf("NewTwoPhaseCache failed: %v", err)
	}
	defer cache.Close()

	t.Run("WritesBothTiers", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "k", []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if local, _ := cache.local.Get(ctx, tenantID, "k"); string(local) != "v" {
			t.Error("expected L1 to hold the value")
		}
		if !mr.Exists("farehawk:tenant-001:k") {
			t.Error("expected L2 to hold the value")
		}
	})

	t.Run("PopulatesL1FromL2", func(t *testing.T) {
		mr.Set("farehawk:tenant-001:remote-only", "from-redis")

		val, err := cache.Get(ctx, tenantID, "remote-only")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "from-redis" {
			t.Fatalf("expected 'from-redis', got '%s'", string(val))
		}

		mr.Del("farehawk:tenant-001:remote-only")
		val, _ = cache.Get(ctx, tenantID, "remote-only")
		if string(val) != "from-redis" {
			t.Error("expected L1 hit after L2 eviction")
		}
	})

	t.Run("DeleteBothTiers", func(t *testing.T) {
		if err := cache.Delete(ctx, tenantID, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("Report", func(t *testing.T) {
		if err := cache.SetReport(ctx, tenantID, testRun("run-003"), time.Minute); err != nil {
			t.Fatalf("SetReport failed: %v", err)
		}
		got, err := cache.GetReport(ctx, tenantID)
		if err != nil || got == nil || got.ID != "run-003" {
			t.Fatalf("expected run-003, got %+v (%v)", got, err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNew(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}

	mr := miniredis.RunT(t)
	c, err = New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	if _, ok := c.(*RedisCache); !ok {
		t.Errorf("expected *RedisCache, got %T", c)
	}
}
