package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/caches"
)

const (
	attributeURL       = "url"
	attributeExpiredAt = "expired_at"

	// BatchWriteItem accepts at most 25 requests.
	batchWriteLimit = 25
)

// Config defines the configuration options for the DynamoDB cache implementation.
type Config struct {
	ItemExpiration time.Duration // How long an item stays in the table after its TTL. Written to expired_at for DynamoDB TTL deletion.
	Table          string

	// CreateTable creates the table, and enables TTL on expired_at, when it
	// does not exist yet.
	CreateTable bool
}

// Cache implements the ghcache.Cache interface using Amazon DynamoDB as the storage backend.
// It handles the storage, retrieval and clearing of cached GitHub responses.
type Cache struct {
	client *dynamodb.Client

	table      string
	expiration time.Duration
	now        func() time.Time
}

type cacheItem struct {
	URL       string `json:"url" dynamodbav:"url"`
	Response  []byte `json:"response" dynamodbav:"response"`
	CreatedAt int64  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt int64  `json:"updated_at" dynamodbav:"updated_at"`
	ExpiredAt int64  `json:"expired_at" dynamodbav:"expired_at"`
}

// Get retrieves a cache item from DynamoDB by its key.
// Returns ghcache.ErrNotFound if the item doesn't exist.
func (c *Cache) Get(ctx context.Context, k string) (*ghcache.CacheItem, error) {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			attributeURL: key,
		},
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, ghcache.ErrNotFound
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	var ci ghcache.CacheItem
	if err := gobDecode(item.Response, &ci); err != nil {
		return nil, err
	}

	return &ci, nil
}

// Set stores a cache item under k, replacing any existing item.
// It handles the serialization of the cache item and sets the appropriate timestamps.
func (c *Cache) Set(ctx context.Context, k string, v *ghcache.CacheItem) error {
	now := c.now()

	encItem, err := gobEncode(v)
	if err != nil {
		return err
	}

	i := cacheItem{
		URL:       k,
		Response:  encItem,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
		ExpiredAt: v.StoredAt.Add(v.TTL + c.expiration).Unix(),
	}

	av, err := attributevalue.MarshalMap(i)
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	return err
}

// Clear deletes every item in the table.
func (c *Cache) Clear(ctx context.Context) error {
	p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		ProjectionExpression: aws.String(attributeURL),
	})

	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}

		for start := 0; start < len(page.Items); start += batchWriteLimit {
			end := min(start+batchWriteLimit, len(page.Items))

			requests := make([]types.WriteRequest, 0, end-start)
			for _, item := range page.Items[start:end] {
				requests = append(requests, types.WriteRequest{
					DeleteRequest: &types.DeleteRequest{
						Key: map[string]types.AttributeValue{
							attributeURL: item[attributeURL],
						},
					},
				})
			}

			if err := c.batchWrite(ctx, requests); err != nil {
				return err
			}
		}
	}

	return nil
}

// batchWrite retries unprocessed items until DynamoDB accepts them all.
func (c *Cache) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{c.table: requests}
	for len(pending[c.table]) > 0 {
		out, err := c.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// Len counts items in the table with a COUNT scan.
func (c *Cache) Len(ctx context.Context) (int, error) {
	p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
		TableName: aws.String(c.table),
		Select:    types.SelectCount,
	})

	n := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		n += int(page.Count)
	}
	return n, nil
}

// New creates a new DynamoDB cache instance with the provided configuration.
// It validates the configuration and sets default values where appropriate.
// Returns an error if the client is nil or if the configuration is invalid.
func New(ctx context.Context, client *dynamodb.Client, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}
	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "missing table name",
		}
	}

	if config.CreateTable {
		if err := ensureTable(ctx, client, config.Table); err != nil {
			return nil, fmt.Errorf("ensure table %s: %w", config.Table, err)
		}
	}

	var itemExpiration time.Duration
	if config.ItemExpiration == 0 {
		itemExpiration = caches.DefaultExpiredDuration
	} else {
		itemExpiration = config.ItemExpiration
	}

	return &Cache{
		client: client,

		table:      config.Table,
		expiration: itemExpiration,
		now:        time.Now,
	}, nil
}
