// Package dynamo implements the Remote Data Service over DynamoDB.
//
// Table requirements (one table per mirrored table, named prefix+table):
//   - PK: id (string)
//   - GSI "user_id-index" on user_id (string), projecting all attributes
//
// Domain fields travel as a JSON document in the data attribute; the parent
// id is duplicated into parent_id so fetches can filter on it.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
)

// UserIndex is the global secondary index fetches query.
const UserIndex = "user_id-index"

// Seams for tests.
var (
	loadDefaultAWSConfig        = awsconfig.LoadDefaultConfig
	newDynamoDBClientFromConfig = dynamodb.NewFromConfig
)

// API is the part of *dynamodb.Client used by Service.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Options configures New. With an Endpoint (DynamoDB Local) static "local"
// credentials are used, as the local server ignores them.
type Options struct {
	Region      string
	Endpoint    string
	TablePrefix string
}

type item struct {
	ID        string  `dynamodbav:"id"`
	UserID    string  `dynamodbav:"user_id"`
	ParentID  string  `dynamodbav:"parent_id,omitempty"`
	Data      string  `dynamodbav:"data"`
	Version   int64   `dynamodbav:"version"`
	UpdatedAt string  `dynamodbav:"updated_at"`
	DeletedAt *string `dynamodbav:"deleted_at,omitempty"`
}

// Service implements remote.Service.
type Service struct {
	client API
	prefix string
}

var _ remote.Service = (*Service)(nil)

// NewWithClient wraps an existing client.
func NewWithClient(client API, prefix string) *Service {
	return &Service{client: client, prefix: prefix}
}

// New builds a DynamoDB client from opts.
func New(ctx context.Context, opts Options) (*Service, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}
	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := newDynamoDBClientFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewWithClient(client, opts.TablePrefix), nil
}

func (s *Service) tableName(table string) string {
	return s.prefix + table
}

// EnsureTables creates any missing table with its user index.
func (s *Service) EnsureTables(ctx context.Context) error {
	for _, t := range models.Tables {
		_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:   aws.String(s.tableName(t.Name)),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("user_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
				IndexName: aws.String(UserIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("user_id"), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			}},
		})
		if err != nil {
			var inUse *types.ResourceInUseException
			if errors.As(err, &inUse) {
				continue
			}
			return classify(fmt.Errorf("create table %s: %w", s.tableName(t.Name), err))
		}
	}
	return nil
}

func toItem(t models.Table, owner string, row models.Row) (item, error) {
	row = row.WithoutLocal(t)
	fields := make(map[string]any, len(row.Fields))
	for k, v := range row.Fields {
		if k != models.ColUserID {
			fields[k] = v
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return item{}, fmt.Errorf("encode %s[%s] data: %w", t.Name, row.ID, err)
	}
	it := item{
		ID:        row.ID,
		UserID:    owner,
		Data:      string(data),
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
		DeletedAt: row.DeletedAt,
	}
	if t.Parent != "" {
		it.ParentID = row.String(t.Parent)
	}
	return it, nil
}

func fromItem(it item) (models.Row, error) {
	fields, err := models.DecodeFields([]byte(it.Data))
	if err != nil {
		return models.Row{}, err
	}
	r := models.Row{ID: it.ID, Version: it.Version, UpdatedAt: it.UpdatedAt, DeletedAt: it.DeletedAt, Fields: fields}
	r.Set(models.ColUserID, it.UserID)
	return r, nil
}

func (s *Service) Upsert(ctx context.Context, table string, row models.Row) error {
	t, owner, err := remote.ValidateUpsert(table, row)
	if err != nil {
		return err
	}
	it, err := toItem(t, owner, row)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName(t.Name)),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#id) OR (#version <= :v AND #user_id = :u)"),
		ExpressionAttributeNames: map[string]string{
			"#id":      "id",
			"#version": "version",
			"#user_id": "user_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: fmt.Sprint(row.Version)},
			":u": &types.AttributeValueMemberS{Value: owner},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}

	var cfe *types.ConditionalCheckFailedException
	if !errors.As(err, &cfe) {
		return classify(fmt.Errorf("put %s[%s]: %w", t.Name, row.ID, err))
	}
	var old item
	if len(cfe.Item) > 0 {
		if err := attributevalue.UnmarshalMap(cfe.Item, &old); err != nil {
			return remote.ErrConflict(t.Name, row.ID, row.Version, 0)
		}
		if old.UserID != owner {
			return remote.ErrOwnerMismatch(t.Name, row.ID)
		}
	}
	return remote.ErrConflict(t.Name, row.ID, row.Version, old.Version)
}

func (s *Service) Fetch(ctx context.Context, table string, f remote.Filter) ([]models.Row, error) {
	t, err := remote.ValidateFetch(table, f)
	if err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName(t.Name)),
		IndexName:              aws.String(UserIndex),
		KeyConditionExpression: aws.String("#user_id = :u"),
		ExpressionAttributeNames: map[string]string{
			"#user_id": "user_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: f.UserID},
		},
	}
	if f.ParentID != "" {
		in.FilterExpression = aws.String("#parent_id = :p")
		in.ExpressionAttributeNames["#parent_id"] = "parent_id"
		in.ExpressionAttributeValues[":p"] = &types.AttributeValueMemberS{Value: f.ParentID}
	}

	var out []models.Row
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("query %s: %w", t.Name, err))
		}
		for _, raw := range page.Items {
			var it item
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("decode %s item: %w", t.Name, err)
			}
			r, err := fromItem(it)
			if err != nil {
				return nil, fmt.Errorf("decode %s[%s] data: %w", t.Name, it.ID, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// classify wraps transport failures and throttling with common.ErrUnavailable.
func classify(err error) error {
	var (
		respErr    *awshttp.ResponseError
		netErr     net.Error
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr),
		errors.As(err, &throughput),
		errors.As(err, &limit):
		return remote.Unavailable(err)
	case errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500:
		return remote.Unavailable(err)
	}
	return err
}
