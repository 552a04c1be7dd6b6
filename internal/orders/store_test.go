package orders

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws/awstest"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

const (
	ordersTbl = "orders"
	refsTbl   = "provider_refs"
)

func newTestStore() (*Store, *awstest.Dynamo) {
	db := awstest.NewDynamo().
		CreateTable(ordersTbl, "order_id").
		CreateTable(refsTbl, "provider_order_id")
	return NewStore(db, ordersTbl, refsTbl), db
}

func sampleOrder(id, user string) *Order {
	return &Order{
		OrderID:   id,
		UserID:    user,
		AddressID: "addr-1",
		Items: []LineItem{
			{ProductID: "p1", Name: "Kurta", Quantity: 2, PriceAtPurchase: money.RequireAmount("499.00")},
		},
		TotalAmount: money.RequireAmount("998.00"),
		AmountMinor: 99800,
		Currency:    "INR",
	}
}

func TestCreate_SuccessAndDuplicate(t *testing.T) {
	store, db := newTestStore()
	ctx := context.Background()

	o := sampleOrder("order-1", "user-1")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if o.Status != StatusCreated || o.CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", o)
	}
	if db.Len(ordersTbl) != 1 {
		t.Fatalf("order item not stored")
	}

	if err := store.Create(ctx, sampleOrder("order-1", "user-1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := store.Get(ctx, "order-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if !got.TotalAmount.Equal(o.TotalAmount.Decimal) || got.Items[0].Quantity != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCreate_RejectsTotalMismatch(t *testing.T) {
	store, db := newTestStore()
	o := sampleOrder("order-2", "user-1")
	o.TotalAmount = money.RequireAmount("997.99")

	if err := store.Create(context.Background(), o); !errors.Is(err, ErrTotalMismatch) {
		t.Fatalf("expected ErrTotalMismatch, got %v", err)
	}
	if db.Len(ordersTbl) != 0 {
		t.Fatal("nothing should be written")
	}
}

func TestAttachProviderOrder(t *testing.T) {
	store, db := newTestStore()
	ctx := context.Background()
	_ = store.Create(ctx, sampleOrder("order-1", "u"))
	_ = store.Create(ctx, sampleOrder("order-2", "u"))

	if err := store.AttachProviderOrder(ctx, "order-1", "order_P1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, err := store.GetByProviderOrderID(ctx, "order_P1")
	if err != nil || got == nil || got.OrderID != "order-1" {
		t.Fatalf("lookup by provider id: %+v %v", got, err)
	}

	// the same provider order id cannot be linked to a second order
	if err := store.AttachProviderOrder(ctx, "order-2", "order_P1"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// an order gets one provider order
	if err := store.AttachProviderOrder(ctx, "order-1", "order_P2"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if db.Len(refsTbl) != 1 {
		t.Fatalf("cancelled transactions must not leave refs, got %d", db.Len(refsTbl))
	}
	// unknown local order
	if err := store.AttachProviderOrder(ctx, "missing", "order_P3"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected cancelled transaction, got %v", err)
	}
}

func TestGetByProviderOrderID_Missing(t *testing.T) {
	store, _ := newTestStore()
	got, err := store.GetByProviderOrderID(context.Background(), "order_nope")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", got, err)
	}
}

func TestMarkPaid_Condition_SuccessAndFail(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	_ = store.Create(ctx, sampleOrder("order-10", "u"))
	_ = store.AttachProviderOrder(ctx, "order-10", "order_P10")

	if err := store.MarkPaid(ctx, "order_P10", "pay_1", "sig"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	o, _ := store.Get(ctx, "order-10")
	if o.Status != StatusPaid || o.ProviderPaymentID != "pay_1" || o.ProviderSignature != "sig" || o.PaidAt == nil {
		t.Fatalf("unexpected order after MarkPaid: %+v", o)
	}

	err := store.MarkPaid(ctx, "order_P10", "pay_2", "sig2")
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	o, _ = store.Get(ctx, "order-10")
	if o.ProviderPaymentID != "pay_1" {
		t.Fatal("second MarkPaid must not overwrite")
	}
	if err := store.RecordFailure(ctx, "order-10", "late failure"); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("a paid order must not take a failure reason, got %v", err)
	}
}

func TestMarkPaid_UnknownProviderOrder(t *testing.T) {
	store, db := newTestStore()
	if err := store.MarkPaid(context.Background(), "order_ghost", "pay", "sig"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if db.Len(ordersTbl) != 0 {
		t.Fatal("no row may be created for an unknown provider order")
	}
}

func TestRecordFailure_KeepsStatusCreated(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	_ = store.Create(ctx, sampleOrder("order-11", "u"))

	if err := store.RecordFailure(ctx, "order-11", "BAD_REQUEST_ERROR"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	o, _ := store.Get(ctx, "order-11")
	if o.Status != StatusCreated || o.FailureReason != "BAD_REQUEST_ERROR" {
		t.Fatalf("unexpected order: %+v", o)
	}
	if err := store.RecordFailure(ctx, "missing", "x"); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch for a missing order, got %v", err)
	}
}

func TestMarkPaid_ConcurrentExactlyOneWins(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	_ = store.Create(ctx, sampleOrder("order-c", "u"))
	_ = store.AttachProviderOrder(ctx, "order-c", "order_PC")

	var wins, mismatches int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := store.MarkPaid(ctx, "order_PC", "pay", "sig"); {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrStatusMismatch):
				atomic.AddInt32(&mismatches, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || mismatches != 15 {
		t.Fatalf("wins=%d mismatches=%d", wins, mismatches)
	}
}

func TestUpdateStatus_Condition_SuccessAndFail(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	_ = store.Create(ctx, sampleOrder("order-12", "u"))

	// success: created -> cancelled
	if err := store.UpdateStatus(ctx, "order-12", StatusCreated, StatusCancelled); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// failure: created -> paid (but current is cancelled)
	err := store.UpdateStatus(ctx, "order-12", StatusCreated, StatusPaid)
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
}

func TestIncrementAttempts(t *testing.T) {
	store, db := newTestStore()
	ctx := context.Background()
	_ = store.Create(ctx, sampleOrder("order-13", "u"))

	for i := 0; i < 3; i++ {
		if err := store.IncrementAttempts(ctx, "order-13"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	item := db.Item(ordersTbl, "order-13")
	if n := item["attempts"].(*types.AttributeValueMemberN).Value; n != "3" {
		t.Fatalf("attempts = %s", n)
	}
	if err := store.IncrementAttempts(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByUser_NewestFirst(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		o := sampleOrder(id, "user-1")
		o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_ = store.Create(ctx, o)
	}
	_ = store.Create(ctx, sampleOrder("other", "user-2"))

	list, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(list))
	}
	if list[0].OrderID != "c" || list[2].OrderID != "a" {
		t.Fatalf("unexpected order: %s %s %s", list[0].OrderID, list[1].OrderID, list[2].OrderID)
	}
}
