package address

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws/awstest"
)

func newTestStore() *Store {
	s, _ := newTestStoreWithDB()
	return s
}

func newTestStoreWithDB() (*Store, *awstest.Dynamo) {
	db := awstest.NewDynamo().CreateTable("addresses", "address_id")
	return NewStore(db, "addresses"), db
}

func addr(user string) *Address {
	return &Address{UserID: user, AddressLine: "12 MG Road", City: "Bengaluru", State: "KA", Zip: "560001", Country: "IN"}
}

func TestAdd_EnforcesLimit(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < MaxPerUser; i++ {
		a := addr("user-1")
		if err := s.Add(ctx, a); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if a.AddressID == "" || a.CreatedAt.IsZero() {
			t.Fatalf("ids not assigned: %+v", a)
		}
	}
	if err := s.Add(ctx, addr("user-1")); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	// other users are unaffected
	if err := s.Add(ctx, addr("user-2")); err != nil {
		t.Fatalf("add for user-2: %v", err)
	}

	list, err := s.ListByUser(ctx, "user-1")
	if err != nil || len(list) != MaxPerUser {
		t.Fatalf("list: %d %v", len(list), err)
	}
}

func TestGet(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	a := addr("user-1")
	_ = s.Add(ctx, a)

	got, err := s.Get(ctx, a.AddressID)
	if err != nil || got == nil || got.City != "Bengaluru" || got.UserID != "user-1" {
		t.Fatalf("get: %+v %v", got, err)
	}
	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestAdd_ConcurrentAddsNeverExceedLimit(t *testing.T) {
	s, db := newTestStoreWithDB()
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	var added, limited int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := s.Add(ctx, addr("user-1")); {
			case err == nil:
				atomic.AddInt32(&added, 1)
			case errors.Is(err, ErrLimitReached):
				atomic.AddInt32(&limited, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if added != MaxPerUser || limited != workers-MaxPerUser {
		t.Fatalf("added=%d limited=%d", added, limited)
	}
	list, err := s.ListByUser(ctx, "user-1")
	if err != nil || len(list) != MaxPerUser {
		t.Fatalf("list: %d %v", len(list), err)
	}
	// three addresses plus the counter item
	if db.Len("addresses") != MaxPerUser+1 {
		t.Fatalf("rows = %d", db.Len("addresses"))
	}
}

func TestAdd_FailedTransactionWritesNothing(t *testing.T) {
	s, db := newTestStoreWithDB()
	db.SetFault("TransactWriteItems", "addresses", errors.New("throttled"))

	err := s.Add(context.Background(), addr("user-1"))
	if err == nil || errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected a write error, got %v", err)
	}
	if db.Len("addresses") != 0 {
		t.Fatal("nothing may be written")
	}
}
