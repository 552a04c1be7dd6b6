package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

// UserIndex is the GSI on user_id used for order history.
const UserIndex = "user_id-index"

var (
	// ErrStatusMismatch is returned when a conditional status transition fails.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrNotFound is returned by writes addressed to an order that does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicate is returned when an order id or provider order id is already taken.
	ErrDuplicate = errors.New("order or provider order already exists")
	// ErrTotalMismatch is returned when TotalAmount differs from the line items.
	ErrTotalMismatch = errors.New("total amount does not match line items")
)

// Store is the DynamoDB-backed order ledger. Orders live in ordersTable;
// refsTable maps provider_order_id to order_id and guarantees uniqueness.
type Store struct {
	client      aws.DynamoDBAPI
	ordersTable string
	refsTable   string
	nowFunc     func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, ordersTable, refsTable string) *Store {
	return &Store{
		client:      client,
		ordersTable: ordersTable,
		refsTable:   refsTable,
		nowFunc:     time.Now,
	}
}

// Create inserts a new order in status created. The order must not exist.
func (s *Store) Create(ctx context.Context, order *Order) error {
	if !order.LinesTotal().Equal(order.TotalAmount.Decimal) {
		return ErrTotalMismatch
	}
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusCreated
	}

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.ordersTable,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrDuplicate
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// AttachProviderOrder links a provider order to a created order. The ref put and
// the order update commit together, so a provider order id can belong to only
// one order and an order gets at most one provider order.
func (s *Store) AttachProviderOrder(ctx context.Context, orderID, providerOrderID string) error {
	now := s.nowFunc().UTC()
	refMap, err := attributevalue.MarshalMap(ProviderRef{
		ProviderOrderID: providerOrderID,
		OrderID:         orderID,
		CreatedAt:       now,
	})
	if err != nil {
		return fmt.Errorf("marshal provider ref: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.refsTable,
				Item:                refMap,
				ConditionExpression: awsString("attribute_not_exists(provider_order_id)"),
			},
		},
		{
			Update: &types.Update{
				TableName: &s.ordersTable,
				Key: map[string]types.AttributeValue{
					"order_id": &types.AttributeValueMemberS{Value: orderID},
				},
				UpdateExpression:    awsString("SET provider_order_id = :pid, updated_at = :ua"),
				ConditionExpression: awsString("attribute_exists(order_id) AND attribute_not_exists(provider_order_id) AND #s = :created"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pid":     &types.AttributeValueMemberS{Value: providerOrderID},
					":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
					":created": &types.AttributeValueMemberS{Value: StatusCreated},
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("attach %s to %s: %w", providerOrderID, orderID, ErrDuplicate)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.ordersTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByProviderOrderID resolves the provider ref and loads the order.
// Returns (nil, nil) if no order carries providerOrderID.
func (s *Store) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error) {
	orderID, err := s.resolve(ctx, providerOrderID)
	if err != nil || orderID == "" {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *Store) resolve(ctx context.Context, providerOrderID string) (string, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.refsTable,
		Key: map[string]types.AttributeValue{
			"provider_order_id": &types.AttributeValueMemberS{Value: providerOrderID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get provider ref: %w", err)
	}
	if len(out.Item) == 0 {
		return "", nil
	}
	var ref ProviderRef
	if err := attributevalue.UnmarshalMap(out.Item, &ref); err != nil {
		return "", fmt.Errorf("unmarshal provider ref: %w", err)
	}
	return ref.OrderID, nil
}

// MarkPaid moves the order owning providerOrderID from created to paid in one
// conditional write. Returns ErrStatusMismatch if the order is not created.
func (s *Store) MarkPaid(ctx context.Context, providerOrderID, paymentID, signature string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, providerOrderID,
		"SET #s = :new, provider_payment_id = :pay, provider_signature = :sig, paid_at = :now, updated_at = :now",
		map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberS{Value: StatusPaid},
			":pay": &types.AttributeValueMemberS{Value: paymentID},
			":sig": &types.AttributeValueMemberS{Value: signature},
			":now": &types.AttributeValueMemberS{Value: now},
		})
}

// RecordFailure notes why provider order creation failed. The order stays
// created; only payment verification moves it. It is keyed by the local
// order id because no provider order exists yet.
func (s *Store) RecordFailure(ctx context.Context, orderID, reason string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.ordersTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET failure_reason = :reason, updated_at = :now"),
		ConditionExpression:      awsString("attribute_exists(order_id) AND #s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: StatusCreated},
			":reason":   &types.AttributeValueMemberS{Value: reason},
			":now":      &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, providerOrderID, updateExpr string, values map[string]types.AttributeValue) error {
	orderID, err := s.resolve(ctx, providerOrderID)
	if err != nil {
		return err
	}
	if orderID == "" {
		return ErrNotFound
	}
	values[":expected"] = &types.AttributeValueMemberS{Value: StatusCreated}
	values[":pid"] = &types.AttributeValueMemberS{Value: providerOrderID}

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.ordersTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          &updateExpr,
		ConditionExpression:       awsString("#s = :expected AND provider_order_id = :pid"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.ordersTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// IncrementAttempts increases the reconciliation attempts counter by 1.
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.ordersTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrNotFound
		}
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// ListByUser returns the user's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	var (
		out   []Order
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.ordersTable,
			IndexName:              awsString(UserIndex),
			KeyConditionExpression: awsString("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query orders by user: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
