// Package address stores delivery addresses, at most MaxPerUser per user.
package address

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

const (
	MaxPerUser = 3
	UserIndex  = "user_id-index"
)

var ErrLimitReached = errors.New("address limit reached")

type Address struct {
	AddressID   string    `dynamodbav:"address_id" json:"address_id"` // PK
	UserID      string    `dynamodbav:"user_id" json:"user_id"`
	AddressLine string    `dynamodbav:"address_line" json:"address_line"`
	City        string    `dynamodbav:"city" json:"city"`
	State       string    `dynamodbav:"state" json:"state"`
	Zip         string    `dynamodbav:"zip" json:"zip"`
	Country     string    `dynamodbav:"country" json:"country"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"created_at"`
}

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Add saves a new address for a.UserID and fills in AddressID and CreatedAt.
// The insert and a per-user counter increment commit in one transaction that
// is conditioned on the counter being below MaxPerUser, so concurrent adds
// cannot exceed the cap.
func (s *Store) Add(ctx context.Context, a *Address) error {
	a.AddressID = uuid.NewString()
	a.CreatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: &s.tableName,
					Key: map[string]types.AttributeValue{
						"address_id": &types.AttributeValueMemberS{Value: counterKey(a.UserID)},
					},
					UpdateExpression:    awsString("SET address_count = if_not_exists(address_count, :zero) + :one"),
					ConditionExpression: awsString("attribute_not_exists(address_count) OR address_count < :max"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":zero": &types.AttributeValueMemberN{Value: "0"},
						":one":  &types.AttributeValueMemberN{Value: "1"},
						":max":  &types.AttributeValueMemberN{Value: strconv.Itoa(MaxPerUser)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                item,
					ConditionExpression: awsString("attribute_not_exists(address_id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
			sdkaws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
			return ErrLimitReached
		}
		return fmt.Errorf("put address: %w", err)
	}
	return nil
}

// counterKey is the key of the item holding a user's address count. It has no
// user_id attribute, so it never shows up in ListByUser.
func counterKey(userID string) string { return "count#" + userID }

// Get returns the address, or (nil, nil) when it does not exist.
func (s *Store) Get(ctx context.Context, addressID string) (*Address, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"address_id": &types.AttributeValueMemberS{Value: addressID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var a Address
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	return &a, nil
}

// ListByUser returns the user's addresses, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Address, error) {
	out, err := s.client.Query(ctx, s.byUser(userID))
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	var list []Address
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &list); err != nil {
		return nil, fmt.Errorf("unmarshal addresses: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *Store) byUser(userID string) *dyn.QueryInput {
	return &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(UserIndex),
		KeyConditionExpression: awsString("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	}
}

func awsString(s string) *string { return &s }
