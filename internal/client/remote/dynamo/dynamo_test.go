package dynamo

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
	"github.com/dmitrijs2005/estisync/internal/common"
)

type fakeAPI struct {
	API

	puts    []*dynamodb.PutItemInput
	putErr  error
	queries []*dynamodb.QueryInput
	pages   []*dynamodb.QueryOutput
	qErr    error
	created []string
	exists  map[string]bool
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	if f.qErr != nil {
		return nil, f.qErr
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	name := aws.ToString(in.TableName)
	if f.exists[name] {
		return nil, &types.ResourceInUseException{Message: aws.String("exists")}
	}
	f.created = append(f.created, name)
	return &dynamodb.CreateTableOutput{}, nil
}

func mustItem(t *testing.T, it item) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(it)
	require.NoError(t, err)
	return av
}

func photo() models.Row {
	return models.Row{ID: "p1", Version: 2, UpdatedAt: "t1", Fields: map[string]any{
		models.ColUserID: "u1", models.ColEstimateID: "e1", models.ColURI: "u1/p1.jpg",
		models.ColLocalURI: "p1/abc.jpg", "description": "roof",
	}}
}

func TestUpsert_PutsConditionalItem(t *testing.T) {
	api := &fakeAPI{}
	s := NewWithClient(api, "estisync_")

	require.NoError(t, s.Upsert(context.Background(), models.TablePhotos, photo()))
	require.Len(t, api.puts, 1)

	in := api.puts[0]
	assert.Equal(t, "estisync_photos", aws.ToString(in.TableName))
	assert.Equal(t, "attribute_not_exists(#id) OR (#version <= :v AND #user_id = :u)", aws.ToString(in.ConditionExpression))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "2"}, in.ExpressionAttributeValues[":v"])
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, in.ReturnValuesOnConditionCheckFailure)

	var it item
	require.NoError(t, attributevalue.UnmarshalMap(in.Item, &it))
	assert.Equal(t, "u1", it.UserID)
	assert.Equal(t, "e1", it.ParentID)
	assert.Nil(t, it.DeletedAt)

	r, err := fromItem(it)
	require.NoError(t, err)
	assert.Equal(t, "roof", r.Fields["description"])
	assert.Equal(t, "u1", r.Fields[models.ColUserID])
	assert.NotContains(t, r.Fields, models.ColLocalURI)
}

func TestUpsert_ConditionFailures(t *testing.T) {
	ctx := context.Background()

	api := &fakeAPI{putErr: &types.ConditionalCheckFailedException{
		Item: mustItem(t, item{ID: "p1", UserID: "u1", Data: "{}", Version: 7}),
	}}
	err := NewWithClient(api, "").Upsert(ctx, models.TablePhotos, photo())
	require.ErrorIs(t, err, common.ErrVersionConflict)

	api = &fakeAPI{putErr: &types.ConditionalCheckFailedException{
		Item: mustItem(t, item{ID: "p1", UserID: "u2", Data: "{}", Version: 1}),
	}}
	err = NewWithClient(api, "").Upsert(ctx, models.TablePhotos, photo())
	require.ErrorIs(t, err, common.ErrInvalidRow)

	api = &fakeAPI{putErr: &types.ConditionalCheckFailedException{}}
	err = NewWithClient(api, "").Upsert(ctx, models.TablePhotos, photo())
	require.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestUpsert_TransportErrors(t *testing.T) {
	ctx := context.Background()

	for name, cause := range map[string]error{
		"throttled": &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")},
		"network":   &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")},
		"deadline":  context.DeadlineExceeded,
	} {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{putErr: cause}
			err := NewWithClient(api, "").Upsert(ctx, models.TablePhotos, photo())
			require.ErrorIs(t, err, common.ErrUnavailable)
		})
	}

	api := &fakeAPI{putErr: &types.ResourceNotFoundException{Message: aws.String("no table")}}
	err := NewWithClient(api, "").Upsert(ctx, models.TablePhotos, photo())
	require.Error(t, err)
	require.NotErrorIs(t, err, common.ErrUnavailable)
}

func TestUpsert_Validation(t *testing.T) {
	api := &fakeAPI{}
	s := NewWithClient(api, "")

	err := s.Upsert(context.Background(), models.TableCustomers, models.Row{ID: "c1", Version: 1})
	require.ErrorIs(t, err, common.ErrInvalidRow)
	err = s.Upsert(context.Background(), "invoices", photo())
	require.ErrorIs(t, err, common.ErrUnknownTable)
	assert.Empty(t, api.puts)
}

func TestFetch_PaginatesAndFilters(t *testing.T) {
	del := "t9"
	api := &fakeAPI{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				mustItem(t, item{ID: "i1", UserID: "u1", ParentID: "e1", Data: `{"estimate_id":"e1","qty":2}`, Version: 1, UpdatedAt: "t1"}),
			},
			LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "i1"}},
		},
		{
			Items: []map[string]types.AttributeValue{
				mustItem(t, item{ID: "i2", UserID: "u1", ParentID: "e1", Data: `{"estimate_id":"e1"}`, Version: 3, UpdatedAt: "t2", DeletedAt: &del}),
			},
		},
	}}
	s := NewWithClient(api, "p_")

	rows, err := s.Fetch(context.Background(), models.TableEstimateItems, remote.Filter{UserID: "u1", ParentID: "e1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].Fields["qty"])
	assert.True(t, rows[1].IsTombstone())

	require.Len(t, api.queries, 2)
	first := api.queries[0]
	assert.Equal(t, "p_estimate_items", aws.ToString(first.TableName))
	assert.Equal(t, UserIndex, aws.ToString(first.IndexName))
	assert.Equal(t, "#parent_id = :p", aws.ToString(first.FilterExpression))
	assert.Nil(t, first.ExclusiveStartKey)
	assert.NotNil(t, api.queries[1].ExclusiveStartKey)
}

func TestFetch_Errors(t *testing.T) {
	api := &fakeAPI{qErr: &types.RequestLimitExceeded{Message: aws.String("limit")}}
	_, err := NewWithClient(api, "").Fetch(context.Background(), models.TableCustomers, remote.Filter{UserID: "u1"})
	require.ErrorIs(t, err, common.ErrUnavailable)

	_, err = NewWithClient(&fakeAPI{}, "").Fetch(context.Background(), models.TableCustomers, remote.Filter{})
	require.Error(t, err)
}

func TestEnsureTables_SkipsExisting(t *testing.T) {
	api := &fakeAPI{exists: map[string]bool{"x_customers": true}}
	require.NoError(t, NewWithClient(api, "x_").EnsureTables(context.Background()))

	assert.Len(t, api.created, len(models.Tables)-1)
	assert.NotContains(t, api.created, "x_customers")
}

func TestNew_UsesEndpointAndLocalCredentials(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newDynamoDBClientFromConfig
	t.Cleanup(func() { loadDefaultAWSConfig, newDynamoDBClientFromConfig = origLoad, origNew })

	var loadOpts int
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		loadOpts = len(optFns)
		return aws.Config{Region: "eu-west-1"}, nil
	}
	var o dynamodb.Options
	newDynamoDBClientFromConfig = func(cfg aws.Config, optFns ...func(*dynamodb.Options)) *dynamodb.Client {
		for _, fn := range optFns {
			fn(&o)
		}
		return origNew(cfg, optFns...)
	}

	s, err := New(context.Background(), Options{Region: "eu-west-1", Endpoint: "http://localhost:8000", TablePrefix: "t_"})
	require.NoError(t, err)
	assert.Equal(t, 2, loadOpts)
	assert.Equal(t, "http://localhost:8000", aws.ToString(o.BaseEndpoint))
	assert.Equal(t, "t_customers", s.tableName(models.TableCustomers))

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err = New(context.Background(), Options{})
	require.Error(t, err)
}
