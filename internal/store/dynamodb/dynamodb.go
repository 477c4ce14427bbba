// Package dynamodb implements the result store backend on a DynamoDB table.
//
// Keys are split on their first "/" into a partition key (the check or action
// name) and a sort key (the rest), so every listing the result layer issues is
// a single-partition Query.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// Compile-time interface satisfaction check.
var _ store.Backend = (*Backend)(nil)

const (
	maxBatchWrite     = 25
	maxUnprocessedTry = 5
	// rootSK is the sort key for keys without a "/" component.
	rootSK = "#"
)

// DDBAPI is the subset of the DynamoDB client used by Backend.
type DDBAPI interface {
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, input *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// item is the stored record for one key.
type item struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Key       string `dynamodbav:"key"`
	Data      string `dynamodbav:"data"`
	Size      int64  `dynamodbav:"size"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

// Backend stores results as items in a single table.
type Backend struct {
	client      DDBAPI
	tableName   string
	logger      *slog.Logger
	createTable bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithClient sets a custom DynamoDB client (useful for testing).
func WithClient(c DDBAPI) Option {
	return func(b *Backend) { b.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a DynamoDB backend.
func New(ctx context.Context, cfg *types.DynamoDBConfig, opts ...Option) (*Backend, error) {
	if cfg == nil || cfg.TableName == "" {
		return nil, fmt.Errorf("dynamodb table name required")
	}
	b := &Backend{
		tableName:   cfg.TableName,
		logger:      slog.Default(),
		createTable: cfg.CreateTable,
	}
	for _, o := range opts {
		o(b)
	}
	if b.client != nil {
		return b, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	// For DynamoDB Local: use static credentials and custom endpoint.
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	b.client = dynamodb.NewFromConfig(awsCfg, clientOpts...)
	return b, nil
}

// Start optionally creates the table, then pings it.
func (b *Backend) Start(ctx context.Context) error {
	if b.createTable {
		if err := b.ensureTable(ctx); err != nil {
			return err
		}
	}
	return b.Ping(ctx)
}

func (b *Backend) Name() string { return "dynamodb" }

// Ping checks connectivity by describing the table.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &b.tableName})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	av, err := b.marshalItem(key, value)
	if err != nil {
		return err
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &b.tableName,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

func (b *Backend) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	av, err := b.marshalItem(key, value)
	if err != nil {
		return false, err
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &b.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("conditional put %s: %w", key, err)
	}
	return true, nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	attrs, err := keyAttrs(key)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &b.tableName,
		Key:            attrs,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, store.ErrNotFound
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return []byte(it.Data), nil
}

// ListKeys queries the partition named by the prefix's first segment. A
// prefix without "/" cannot be mapped to one partition and falls back to a
// filtered Scan.
func (b *Backend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	collect := func(items []map[string]ddbtypes.AttributeValue) error {
		var page []item
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("unmarshaling keys: %w", err)
		}
		for _, it := range page {
			if strings.HasPrefix(it.Key, prefix) {
				keys = append(keys, it.Key)
			}
		}
		return nil
	}

	pk, rest, ok := strings.Cut(prefix, "/")
	if !ok {
		return keys, b.scan(ctx, prefix, collect)
	}

	input := &dynamodb.QueryInput{
		TableName:              &b.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: pk},
		},
		ProjectionExpression: aws.String("#k"),
		ExpressionAttributeNames: map[string]string{
			"#k": "key",
		},
		ConsistentRead: aws.Bool(true),
	}
	if rest != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :sk)")
		input.ExpressionAttributeValues[":sk"] = &ddbtypes.AttributeValueMemberS{Value: rest}
	}

	p := dynamodb.NewQueryPaginator(b.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying %q: %w", prefix, err)
		}
		if err := collect(page.Items); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Delete removes keys with BatchWriteItem, retrying unprocessed items a few times.
func (b *Backend) Delete(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(keys) {
			end = len(keys)
		}
		reqs := make([]ddbtypes.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			attrs, err := keyAttrs(k)
			if err != nil {
				return err
			}
			reqs = append(reqs, ddbtypes.WriteRequest{
				DeleteRequest: &ddbtypes.DeleteRequest{Key: attrs},
			})
		}
		if err := b.batchWrite(ctx, reqs); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) batchWrite(ctx context.Context, reqs []ddbtypes.WriteRequest) error {
	pending := map[string][]ddbtypes.WriteRequest{b.tableName: reqs}
	for attempt := 0; attempt < maxUnprocessedTry; attempt++ {
		out, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
		if len(out.UnprocessedItems[b.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		b.logger.Debug("retrying unprocessed deletes", "count", len(pending[b.tableName]), "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50*(attempt+1)) * time.Millisecond):
		}
	}
	return fmt.Errorf("batch delete: %d items left unprocessed", len(pending[b.tableName]))
}

// Count scans the table. DescribeTable's ItemCount lags by hours, so it is not used.
func (b *Backend) Count(ctx context.Context) (int, error) {
	n := 0
	p := dynamodb.NewScanPaginator(b.client, &dynamodb.ScanInput{
		TableName: &b.tableName,
		Select:    ddbtypes.SelectCount,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("counting items: %w", err)
		}
		n += int(page.Count)
	}
	return n, nil
}

func (b *Backend) SizeBytes(ctx context.Context) (int64, error) {
	var total int64
	err := b.scan(ctx, "", func(items []map[string]ddbtypes.AttributeValue) error {
		var page []item
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("unmarshaling sizes: %w", err)
		}
		for _, it := range page {
			total += it.Size
		}
		return nil
	})
	return total, err
}

func (b *Backend) scan(ctx context.Context, prefix string, fn func([]map[string]ddbtypes.AttributeValue) error) error {
	input := &dynamodb.ScanInput{
		TableName:            &b.tableName,
		ProjectionExpression: aws.String("#k, #s"),
		ExpressionAttributeNames: map[string]string{
			"#k": "key",
			"#s": "size",
		},
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(#k, :prefix)")
		input.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefix},
		}
	}
	p := dynamodb.NewScanPaginator(b.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scanning %q: %w", prefix, err)
		}
		if err := fn(page.Items); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) marshalItem(key string, value []byte) (map[string]ddbtypes.AttributeValue, error) {
	pk, sk, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	av, err := attributevalue.MarshalMap(item{
		PK:        pk,
		SK:        sk,
		Key:       key,
		Data:      string(value),
		Size:      int64(len(value)),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", key, err)
	}
	return av, nil
}

func (b *Backend) ensureTable(ctx context.Context) error {
	_, err := b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &b.tableName,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		var riue *ddbtypes.ResourceInUseException
		if errors.As(err, &riue) {
			return nil // table already exists
		}
		return fmt.Errorf("creating table: %w", err)
	}
	return nil
}

// errInvalidKey marks keys that cannot be mapped to a unique PK/SK pair.
var errInvalidKey = errors.New("invalid key")

// splitKey maps "name/rest" to (name, rest) and a bare "name" to (name, rootSK).
// An empty partition, a trailing "/" and a literal rootSK remainder are
// rejected so that no two keys share an item.
func splitKey(key string) (pk, sk string, err error) {
	pk, sk, found := strings.Cut(key, "/")
	switch {
	case pk == "":
		return "", "", fmt.Errorf("%w %q: empty partition", errInvalidKey, key)
	case found && sk == "":
		return "", "", fmt.Errorf("%w %q: trailing slash", errInvalidKey, key)
	case sk == rootSK:
		return "", "", fmt.Errorf("%w %q: reserved sort key", errInvalidKey, key)
	case !found:
		sk = rootSK
	}
	return pk, sk, nil
}

func keyAttrs(key string) (map[string]ddbtypes.AttributeValue, error) {
	pk, sk, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: pk},
		"SK": &ddbtypes.AttributeValueMemberS{Value: sk},
	}, nil
}

// isConditionalCheckFailed returns true if the error is a DynamoDB ConditionalCheckFailedException.
func isConditionalCheckFailed(err error) bool {
	var ccfe *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccfe)
}
