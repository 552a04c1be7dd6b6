package catalog

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws/awstest"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

type mapCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func cachedFixture(t *testing.T) (*CachedStore, *mapCache, *awstest.Dynamo) {
	t.Helper()
	db := awstest.NewDynamo().CreateTable("products", "product_id")
	item, _ := attributevalue.MarshalMap(Product{ProductID: "p1", Name: "Kurta", Price: money.RequireAmount("499.00"), Stock: 4, Category: "ethnic"})
	if err := db.Seed("products", item); err != nil {
		t.Fatal(err)
	}
	cache := newMapCache()
	return NewCachedStore(NewStore(db, "products"), cache, time.Minute, nil), cache, db
}

func TestCachedStore_GetReadsThrough(t *testing.T) {
	s, cache, db := cachedFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := s.Get(ctx, "p1")
		if err != nil || p == nil {
			t.Fatalf("get: %v %v", p, err)
		}
		if !p.Price.Equal(money.RequireAmount("499").Decimal) || p.Stock != 4 {
			t.Fatalf("unexpected product: %+v", p)
		}
	}
	if n := db.Calls("GetItem", "products"); n != 1 {
		t.Fatalf("expected one table read, got %d", n)
	}
	if cache.ttls[productCachePrefix+"p1"] != time.Minute {
		t.Fatal("entry should carry the configured ttl")
	}

	// misses are not cached
	for i := 0; i < 2; i++ {
		if p, err := s.Get(ctx, "nope"); err != nil || p != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", p, err)
		}
	}
	if n := db.Calls("GetItem", "products"); n != 3 {
		t.Fatalf("expected misses to hit the table, got %d reads", n)
	}
}

func TestCachedStore_ListKeyedByFilter(t *testing.T) {
	s, _, db := cachedFixture(t)
	ctx := context.Background()

	_, _ = s.List(ctx, Filter{Category: "ethnic"})
	_, _ = s.List(ctx, Filter{Category: "ethnic"})
	list, err := s.List(ctx, Filter{Category: "western"})
	if err != nil || len(list) != 0 {
		t.Fatalf("western: %v %v", list, err)
	}
	if n := db.Calls("Scan", "products"); n != 2 {
		t.Fatalf("expected one scan per filter, got %d", n)
	}
}

func TestCachedStore_FallsBackOnCacheError(t *testing.T) {
	s, cache, _ := cachedFixture(t)
	cache.getErr = errors.New("connection refused")

	p, err := s.Get(context.Background(), "p1")
	if err != nil || p == nil || p.Name != "Kurta" {
		t.Fatalf("expected table read, got %v %v", p, err)
	}
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping Redis cache integration test")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	key := "test:catalog:" + time.Now().Format(time.RFC3339Nano)
	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
	if err := c.Set(ctx, key, []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	b, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(b) != `{"a":1}` {
		t.Fatalf("get: %q %v %v", b, ok, err)
	}
}
