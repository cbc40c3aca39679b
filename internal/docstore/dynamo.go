package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Reserved item attributes. Document fields are stored alongside them.
const (
	dynamoIDAttr      = "_id"
	dynamoVersionAttr = "_version"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoStore keeps each collection in its own DynamoDB table with
// partition key "_id" (string).
type DynamoStore struct {
	client      dynamoAPI
	tablePrefix string
}

func NewDynamoStore(client dynamoAPI, tablePrefix string) *DynamoStore {
	return &DynamoStore{client: client, tablePrefix: tablePrefix}
}

// NewDynamoClient loads the default AWS configuration for region. A non-empty
// endpoint overrides the service URL (DynamoDB Local).
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// TableName maps a collection path to a table name.
func (s *DynamoStore) TableName(collection string) string {
	return s.tablePrefix + strings.ReplaceAll(collection, "/", ".")
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoIDAttr: &types.AttributeValueMemberS{Value: id},
	}
}

// EnsureTables creates the tables for collections that do not exist yet and
// waits until they are active.
func (s *DynamoStore) EnsureTables(ctx context.Context, wait time.Duration, collections ...string) error {
	for _, c := range collections {
		table := s.TableName(c)
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			continue
		}
		var missing *types.ResourceNotFoundException
		if !errors.As(err, &missing) {
			return unavailable("describe table "+table, err)
		}

		_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(dynamoIDAttr), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(dynamoIDAttr), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return unavailable("create table "+table, err)
		}
		if wait > 0 {
			waiter := dynamodb.NewTableExistsWaiter(s.client)
			if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, wait); err != nil {
				return unavailable("wait for table "+table, err)
			}
		}
	}
	return nil
}

func (s *DynamoStore) Insert(ctx context.Context, collection string, fields Fields) (*Document, error) {
	return s.Create(ctx, collection, uuid.NewString(), fields)
}

func (s *DynamoStore) Create(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	if err := validFields(fields); err != nil {
		return nil, err
	}
	item, err := marshalFields(fields)
	if err != nil {
		return nil, err
	}
	item[dynamoIDAttr] = &types.AttributeValueMemberS{Value: id}
	item[dynamoVersionAttr] = &types.AttributeValueMemberN{Value: "1"}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.TableName(collection)),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": dynamoIDAttr},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrExists
		}
		return nil, unavailable("put item", err)
	}
	return itemToDocument(item)
}

func (s *DynamoStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TableName(collection)),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get item", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return itemToDocument(out.Item)
}

func (s *DynamoStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	if err := validField(field); err != nil {
		return nil, err
	}
	return s.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.TableName(collection)),
		FilterExpression:          aws.String("#f = :v"),
		ExpressionAttributeNames:  map[string]string{"#f": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		ConsistentRead:            aws.Bool(true),
	})
}

func (s *DynamoStore) List(ctx context.Context, collection string) ([]Document, error) {
	return s.scan(ctx, &dynamodb.ScanInput{
		TableName:      aws.String(s.TableName(collection)),
		ConsistentRead: aws.Bool(true),
	})
}

func (s *DynamoStore) scan(ctx context.Context, input *dynamodb.ScanInput) ([]Document, error) {
	var docs []Document
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, unavailable("scan table", err)
		}
		for _, item := range out.Items {
			d, err := itemToDocument(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, *d)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *DynamoStore) Update(ctx context.Context, collection, id string, fields Fields, opts ...UpdateOption) (*Document, error) {
	o := applyOptions(opts)
	if err := validFields(fields); err != nil {
		return nil, err
	}
	expr, err := buildUpdate(fields, o.ifVersion)
	if err != nil {
		return nil, err
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.TableName(collection)),
		Key:                                 idKey(id),
		UpdateExpression:                    aws.String(expr.update),
		ConditionExpression:                 aws.String(expr.condition),
		ExpressionAttributeNames:            expr.names,
		ExpressionAttributeValues:           expr.values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// the old item is only returned when the document exists
			if len(ccf.Item) == 0 {
				return nil, ErrNotFound
			}
			return nil, ErrConflict
		}
		return nil, unavailable("update item", err)
	}
	return itemToDocument(out.Attributes)
}

type updateExpr struct {
	update    string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
}

// buildUpdate renders a SET expression for fields plus the version bump, in
// sorted field order.
func buildUpdate(fields Fields, ifVersion int64) (updateExpr, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e := updateExpr{
		names: map[string]string{
			"#id":      dynamoIDAttr,
			"#version": dynamoVersionAttr,
		},
		values: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	}

	sets := make([]string, 0, len(keys)+1)
	for i, k := range keys {
		av, err := marshalValue(fields[k])
		if err != nil {
			return updateExpr{}, fmt.Errorf("encode field %s: %w", k, err)
		}
		name := "#f" + strconv.Itoa(i)
		value := ":v" + strconv.Itoa(i)
		e.names[name] = k
		e.values[value] = av
		sets = append(sets, name+" = "+value)
	}
	sets = append(sets, "#version = #version + :one")
	e.update = "SET " + strings.Join(sets, ", ")

	e.condition = "attribute_exists(#id)"
	if ifVersion != 0 {
		e.condition += " AND #version = :expected"
		e.values[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ifVersion, 10)}
	}
	return e, nil
}

// marshalValue converts v to an attribute value using its JSON shape, so
// struct fields keep their json names in the table.
func marshalValue(v any) (types.AttributeValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return attributevalue.Marshal(generic)
}

func marshalFields(fields Fields) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(fields)+2)
	for k, v := range fields {
		av, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

func itemToDocument(item map[string]types.AttributeValue) (*Document, error) {
	var d Document
	if v, ok := item[dynamoIDAttr].(*types.AttributeValueMemberS); ok {
		d.ID = v.Value
	}
	if v, ok := item[dynamoVersionAttr].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %s: %w", d.ID, err)
		}
		d.Version = n
	}

	fields := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if k == dynamoIDAttr || k == dynamoVersionAttr {
			continue
		}
		fields[k] = v
	}
	var body map[string]any
	if err := attributevalue.UnmarshalMap(fields, &body); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", d.ID, err)
	}
	if body == nil {
		body = map[string]any{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: %w", d.ID, err)
	}
	d.Body = raw
	return &d, nil
}
