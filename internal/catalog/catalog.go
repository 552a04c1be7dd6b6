// Package catalog reads product rows from the products table.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

type Product struct {
	ProductID string       `dynamodbav:"product_id" json:"product_id"` // PK
	Name      string       `dynamodbav:"name" json:"name"`
	Price     money.Amount `dynamodbav:"price" json:"price"`
	Stock     int          `dynamodbav:"stock" json:"stock"`
	Images    []string     `dynamodbav:"images,omitempty" json:"images,omitempty"`
	Category  string       `dynamodbav:"category,omitempty" json:"category,omitempty"`
	Section   string       `dynamodbav:"section,omitempty" json:"section,omitempty"`
}

// Sort keys accepted by List.
const (
	SortName      = "name"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
)

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Category string
	Section  string
	Sort     string
}

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get returns the product, or (nil, nil) when it does not exist.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// List scans the catalog with optional category/section filters.
func (s *Store) List(ctx context.Context, f Filter) ([]Product, error) {
	var (
		conds  []string
		names  = map[string]string{}
		values = map[string]types.AttributeValue{}
	)
	if f.Category != "" {
		conds = append(conds, "#c = :c")
		names["#c"] = "category"
		values[":c"] = &types.AttributeValueMemberS{Value: f.Category}
	}
	if f.Section != "" {
		conds = append(conds, "#sec = :sec")
		names["#sec"] = "section"
		values[":sec"] = &types.AttributeValueMemberS{Value: f.Section}
	}

	in := &dyn.ScanInput{TableName: &s.tableName}
	if len(conds) > 0 {
		expr := strings.Join(conds, " AND ")
		in.FilterExpression = &expr
		in.ExpressionAttributeNames = names
		in.ExpressionAttributeValues = values
	}

	var out []Product
	for {
		page, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		var batch []Product
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal products: %w", err)
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}

	switch f.Sort {
	case SortPriceAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price.Decimal) })
	case SortPriceDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price.Decimal) })
	case SortName:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out, nil
}
