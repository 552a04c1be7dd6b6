// Package awstest provides in-memory stand-ins for the AWS clients used by the
// stores. Dynamo understands the small expression dialect the stores emit:
// OR of AND-joined conditions over attribute_exists, attribute_not_exists,
// equality and numeric comparison, and SET updates with plain values or if_not_exists(x, :z) + :n.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	pk    string
	items map[string]map[string]types.AttributeValue
	order []string
}

// Dynamo is a goroutine-safe in-memory DynamoDB fake. Every operation runs
// under one mutex so conditional writes are linearizable.
type Dynamo struct {
	mu     sync.Mutex
	tables map[string]*table
	faults map[string]error
	calls  map[string]int
}

func NewDynamo() *Dynamo {
	return &Dynamo{
		tables: map[string]*table{},
		faults: map[string]error{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by a single string or number attribute.
func (d *Dynamo) CreateTable(name, pk string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{pk: pk, items: map[string]map[string]types.AttributeValue{}}
	return d
}

// SetFault makes every op ("PutItem", "UpdateItem", ...) against table fail
// with err until cleared with SetFault(op, table, nil).
func (d *Dynamo) SetFault(op, tableName string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := op + "/" + tableName
	if err == nil {
		delete(d.faults, k)
		return
	}
	d.faults[k] = err
}

// Calls returns how many times op was invoked against table, successful or not.
func (d *Dynamo) Calls(op, tableName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op+"/"+tableName]
}

// Len returns the number of items in table.
func (d *Dynamo) Len(tableName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[tableName]
	if !ok {
		return 0
	}
	return len(t.items)
}

// Item returns a copy of the item stored under key, or nil.
func (d *Dynamo) Item(tableName, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[tableName]
	if !ok {
		return nil
	}
	it, ok := t.items[key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Seed writes an item without evaluating any condition.
func (d *Dynamo) Seed(tableName string, item map[string]types.AttributeValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.table(tableName)
	if err != nil {
		return err
	}
	k, err := keyString(item[t.pk])
	if err != nil {
		return err
	}
	t.put(k, copyItem(item))
	return nil
}

func (d *Dynamo) enter(op, tableName string) error {
	d.calls[op+"/"+tableName]++
	return d.faults[op+"/"+tableName]
}

func (d *Dynamo) table(name string) (*table, error) {
	t, ok := d.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table not found: " + name)}
	}
	return t, nil
}

func (t *table) put(k string, item map[string]types.AttributeValue) {
	if _, exists := t.items[k]; !exists {
		t.order = append(t.order, k)
	}
	t.items[k] = item
}

func (t *table) keyOf(key map[string]types.AttributeValue) (string, error) {
	v, ok := key[t.pk]
	if !ok {
		return "", fmt.Errorf("key is missing partition attribute %q", t.pk)
	}
	return keyString(v)
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("PutItem", deref(in.TableName)); err != nil {
		return nil, err
	}
	t, err := d.table(deref(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := keyString(in.Item[t.pk])
	if err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := ex.holds(deref(in.ConditionExpression), t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.put(k, copyItem(in.Item))
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetItem", deref(in.TableName)); err != nil {
		return nil, err
	}
	t, err := d.table(deref(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("UpdateItem", deref(in.TableName)); err != nil {
		return nil, err
	}
	t, err := d.table(deref(in.TableName))
	if err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	updated, err := t.update(in.Key, deref(in.ConditionExpression), deref(in.UpdateExpression), ex)
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues != "" && in.ReturnValues != types.ReturnValueNone {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (t *table) update(key map[string]types.AttributeValue, cond, update string, ex expr) (map[string]types.AttributeValue, error) {
	k, err := t.keyOf(key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := ex.holds(cond, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	if err := ex.apply(update, next); err != nil {
		return nil, err
	}
	t.put(k, next)
	return next, nil
}

func (d *Dynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Query", deref(in.TableName)); err != nil {
		return nil, err
	}
	t, err := d.table(deref(in.TableName))
	if err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	var items []map[string]types.AttributeValue
	for _, k := range t.order {
		it := t.items[k]
		ok, err := ex.holds(deref(in.KeyConditionExpression), it)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if ok, err = ex.holds(deref(in.FilterExpression), it); err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		items = append(items, copyItem(it))
	}
	out := &dyn.QueryOutput{Count: int32(len(items))}
	if in.Select != types.SelectCount {
		out.Items = items
	}
	return out, nil
}

func (d *Dynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Scan", deref(in.TableName)); err != nil {
		return nil, err
	}
	t, err := d.table(deref(in.TableName))
	if err != nil {
		return nil, err
	}
	ex := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	var items []map[string]types.AttributeValue
	for _, k := range t.order {
		it := t.items[k]
		ok, err := ex.holds(deref(in.FilterExpression), it)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, copyItem(it))
		}
	}
	return &dyn.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

// TransactWriteItems checks every condition before applying any write. A
// failing condition cancels the whole transaction.
func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		name, key, cond, ex, err := d.describe(ti)
		if err != nil {
			return nil, err
		}
		if err := d.enter("TransactWriteItems", name); err != nil {
			return nil, err
		}
		t, err := d.table(name)
		if err != nil {
			return nil, err
		}
		k, err := keyString(key[t.pk])
		if err != nil {
			return nil, err
		}
		ok, err := ex.holds(cond, t.items[k])
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
			cancelled = true
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			t := d.tables[deref(ti.Put.TableName)]
			k, _ := keyString(ti.Put.Item[t.pk])
			t.put(k, copyItem(ti.Put.Item))
		case ti.Update != nil:
			t := d.tables[deref(ti.Update.TableName)]
			ex := expr{names: ti.Update.ExpressionAttributeNames, values: ti.Update.ExpressionAttributeValues}
			if _, err := t.update(ti.Update.Key, "", deref(ti.Update.UpdateExpression), ex); err != nil {
				return nil, err
			}
		case ti.Delete != nil:
			t := d.tables[deref(ti.Delete.TableName)]
			k, _ := keyString(ti.Delete.Key[t.pk])
			delete(t.items, k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) describe(ti types.TransactWriteItem) (string, map[string]types.AttributeValue, string, expr, error) {
	switch {
	case ti.Put != nil:
		p := ti.Put
		t, err := d.table(deref(p.TableName))
		if err != nil {
			return "", nil, "", expr{}, err
		}
		return deref(p.TableName), map[string]types.AttributeValue{t.pk: p.Item[t.pk]}, deref(p.ConditionExpression),
			expr{names: p.ExpressionAttributeNames, values: p.ExpressionAttributeValues}, nil
	case ti.Update != nil:
		u := ti.Update
		return deref(u.TableName), u.Key, deref(u.ConditionExpression),
			expr{names: u.ExpressionAttributeNames, values: u.ExpressionAttributeValues}, nil
	case ti.ConditionCheck != nil:
		c := ti.ConditionCheck
		return deref(c.TableName), c.Key, deref(c.ConditionExpression),
			expr{names: c.ExpressionAttributeNames, values: c.ExpressionAttributeValues}, nil
	case ti.Delete != nil:
		x := ti.Delete
		return deref(x.TableName), x.Key, deref(x.ConditionExpression),
			expr{names: x.ExpressionAttributeNames, values: x.ExpressionAttributeValues}, nil
	}
	return "", nil, "", expr{}, errors.New("empty transact item")
}

type expr struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e expr) name(tok string) string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "#") {
		if n, ok := e.names[tok]; ok {
			return n
		}
	}
	return tok
}

func (e expr) operand(tok string, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		v, ok := e.values[tok]
		if !ok {
			return nil, fmt.Errorf("missing expression attribute value %s", tok)
		}
		return v, nil
	}
	return item[e.name(tok)], nil
}

func (e expr) holds(cond string, item map[string]types.AttributeValue) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}
	for _, alt := range strings.Split(cond, " OR ") {
		ok, err := e.all(alt, item)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (e expr) all(cond string, item map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(cond, " AND ") {
		ok, err := e.clause(strings.TrimSpace(clause), item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (e expr) clause(c string, item map[string]types.AttributeValue) (bool, error) {
	if arg, ok := fnArg(c, "attribute_not_exists"); ok {
		_, exists := item[e.name(arg)]
		return !exists, nil
	}
	if arg, ok := fnArg(c, "attribute_exists"); ok {
		_, exists := item[e.name(arg)]
		return exists, nil
	}
	for _, op := range []string{"<>", "<=", ">=", "<", ">", "="} {
		if i := strings.Index(c, op); i > 0 {
			l, err := e.operand(c[:i], item)
			if err != nil {
				return false, err
			}
			r, err := e.operand(c[i+len(op):], item)
			if err != nil {
				return false, err
			}
			switch op {
			case "=":
				return l != nil && r != nil && avEqual(l, r), nil
			case "<>":
				return l != nil && (r == nil || !avEqual(l, r)), nil
			}
			if l == nil || r == nil {
				return false, nil
			}
			a, err1 := numberOf(l)
			b, err2 := numberOf(r)
			if err1 != nil || err2 != nil {
				return false, fmt.Errorf("non-numeric operands in %q", c)
			}
			switch op {
			case "<":
				return a < b, nil
			case "<=":
				return a <= b, nil
			case ">":
				return a > b, nil
			}
			return a >= b, nil
		}
	}
	return false, fmt.Errorf("unsupported condition clause %q", c)
}

func (e expr) apply(update string, item map[string]types.AttributeValue) error {
	update = strings.TrimSpace(update)
	if update == "" {
		return nil
	}
	if !strings.HasPrefix(update, "SET ") {
		return fmt.Errorf("unsupported update expression %q", update)
	}
	for _, assign := range splitTop(strings.TrimPrefix(update, "SET ")) {
		i := strings.Index(assign, "=")
		if i < 0 {
			return fmt.Errorf("bad assignment %q", assign)
		}
		target := e.name(assign[:i])
		rhs := strings.TrimSpace(assign[i+1:])
		v, err := e.value(rhs, item)
		if err != nil {
			return err
		}
		item[target] = v
	}
	return nil
}

func (e expr) value(rhs string, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	if plus := strings.LastIndex(rhs, "+"); plus > 0 {
		base, err := e.value(strings.TrimSpace(rhs[:plus]), item)
		if err != nil {
			return nil, err
		}
		inc, err := e.operand(rhs[plus+1:], item)
		if err != nil {
			return nil, err
		}
		a, err1 := numberOf(base)
		b, err2 := numberOf(inc)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("non-numeric operands in %q", rhs)
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(a+b, 10)}, nil
	}
	if arg, ok := fnArg(rhs, "if_not_exists"); ok {
		parts := strings.SplitN(arg, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad if_not_exists %q", rhs)
		}
		if v, exists := item[e.name(parts[0])]; exists {
			return v, nil
		}
		return e.operand(parts[1], item)
	}
	return e.operand(rhs, item)
}

func fnArg(s, fn string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, fn+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return strings.TrimSpace(s[len(fn)+1 : len(s)-1]), true
}

// splitTop splits on commas that are not inside parentheses.
func splitTop(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func numberOf(v types.AttributeValue) (int64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("not a number")
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

func avEqual(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		fx, err1 := strconv.ParseFloat(x.Value, 64)
		fy, err2 := strconv.ParseFloat(y.Value, 64)
		if err1 != nil || err2 != nil {
			return x.Value == y.Value
		}
		return fx == fy
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return reflect.DeepEqual(a, b)
}

func keyString(v types.AttributeValue) (string, error) {
	switch k := v.(type) {
	case *types.AttributeValueMemberS:
		return k.Value, nil
	case *types.AttributeValueMemberN:
		return k.Value, nil
	}
	return "", errors.New("missing or unsupported key attribute")
}

func copyItem(it map[string]types.AttributeValue) map[string]types.AttributeValue {
	if it == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
