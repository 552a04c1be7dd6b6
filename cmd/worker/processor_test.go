package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws/awstest"
	"github.com/imrishuroy/go-storefront-checkout/internal/gateway"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/payment"
)

const secret = "rzp_secret"

func newTestProcessor(t *testing.T) (*Processor, *orders.Store, *awstest.Dynamo) {
	t.Helper()
	db := awstest.NewDynamo().
		CreateTable("orders", "order_id").
		CreateTable("provider_refs", "provider_order_id")
	ledger := orders.NewStore(db, "orders", "provider_refs")

	ctx := context.Background()
	o := &orders.Order{
		OrderID:     "o1",
		UserID:      "u1",
		AddressID:   "a1",
		Items:       []orders.LineItem{{ProductID: "p1", Quantity: 2, PriceAtPurchase: money.RequireAmount("499.00")}},
		TotalAmount: money.RequireAmount("998.00"),
		AmountMinor: 99800,
		Currency:    "INR",
	}
	if err := ledger.Create(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := ledger.AttachProviderOrder(ctx, "o1", "order_P1"); err != nil {
		t.Fatal(err)
	}

	v := payment.NewVerifier(payment.Config{Secret: secret, Ledger: ledger})
	return NewProcessor(v, ledger, nil, nil), ledger, db
}

func sqsEvent(t *testing.T, id string, msg any) events.SQSEvent {
	t.Helper()
	body, ok := msg.(string)
	if !ok {
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatal(err)
		}
		body = string(b)
	}
	return events.SQSEvent{Records: []events.SQSMessage{{MessageId: id, Body: body}}}
}

func callbackMessage(sig string) payment.ReconcileMessage {
	return payment.ReconcileMessage{
		OrderID:           "o1",
		ProviderOrderID:   "order_P1",
		ProviderPaymentID: "pay_1",
		ProviderSignature: sig,
		Source:            payment.SourceCallback,
		CorrelationID:     "req-1",
	}
}

func TestProcessor_ReconcilesQueuedPayment(t *testing.T) {
	p, ledger, db := newTestProcessor(t)
	ctx := context.Background()

	resp, err := p.Handle(ctx, sqsEvent(t, "m1", callbackMessage(gateway.Sign(secret, "order_P1", "pay_1"))))
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failure: %v %+v", err, resp)
	}
	o, _ := ledger.Get(ctx, "o1")
	if o.Status != orders.StatusPaid || o.ProviderPaymentID != "pay_1" {
		t.Fatalf("order not paid: %+v", o)
	}
	if n := db.Item("orders", "o1")["attempts"].(*types.AttributeValueMemberN).Value; n != "1" {
		t.Fatalf("attempts = %s", n)
	}

	// redelivery of the same message is a no-op
	resp, _ = p.Handle(ctx, sqsEvent(t, "m1", callbackMessage(gateway.Sign(secret, "order_P1", "pay_1"))))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("duplicate delivery should be acknowledged: %+v", resp)
	}
}

func TestProcessor_RetriesCommitFailure(t *testing.T) {
	p, ledger, db := newTestProcessor(t)
	ctx := context.Background()
	db.SetFault("UpdateItem", "orders", errors.New("throttled"))

	resp, err := p.Handle(ctx, sqsEvent(t, "m2", callbackMessage(gateway.Sign(secret, "order_P1", "pay_1"))))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected m2 to be redelivered, got %+v", resp)
	}

	db.SetFault("UpdateItem", "orders", nil)
	resp, _ = p.Handle(ctx, sqsEvent(t, "m2", callbackMessage(gateway.Sign(secret, "order_P1", "pay_1"))))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("second delivery should succeed: %+v", resp)
	}
	if o, _ := ledger.Get(ctx, "o1"); o.Status != orders.StatusPaid {
		t.Fatalf("expected paid, got %s", o.Status)
	}
}

func TestProcessor_AcknowledgesPermanentFailures(t *testing.T) {
	cases := []struct {
		name string
		msg  any
	}{
		{"forged signature", callbackMessage(gateway.Sign("other", "order_P1", "pay_1"))},
		{"malformed body", "{not json"},
		{"unknown source", payment.ReconcileMessage{ProviderOrderID: "order_P1", ProviderPaymentID: "pay_1", ProviderSignature: "x", Source: "email"}},
		{"unknown order", payment.ReconcileMessage{ProviderOrderID: "order_ghost", ProviderPaymentID: "pay_1", ProviderSignature: gateway.Sign(secret, "order_ghost", "pay_1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ledger, _ := newTestProcessor(t)
			ctx := context.Background()
			resp, err := p.Handle(ctx, sqsEvent(t, "m3", tc.msg))
			if err != nil || len(resp.BatchItemFailures) != 0 {
				t.Fatalf("expected ack, got %v %+v", err, resp)
			}
			if o, _ := ledger.Get(ctx, "o1"); o.Status != orders.StatusCreated {
				t.Fatalf("order must stay created, got %s", o.Status)
			}
		})
	}
}

func TestProcessor_PartialBatch(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ev := sqsEvent(t, "good", callbackMessage(gateway.Sign(secret, "order_P1", "pay_1")))
	ev.Records = append(ev.Records, events.SQSMessage{MessageId: "bad", Body: "{"})

	resp, err := p.Handle(context.Background(), ev)
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected: %v %+v", err, resp)
	}
}
