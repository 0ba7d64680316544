// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package dynamodb provides a cache.Cache stored in an Amazon DynamoDB
// table.
//
// The table must have a string partition key named "key". Items carry
// an "expired_at" attribute in Unix seconds which can be enabled as the
// table's time-to-live attribute so that DynamoDB deletes entries some
// time after their hard expiry.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/gogama/httpq/cache"
)

// DefaultRetention is how long an item outlives its hard expiry before
// DynamoDB may delete it.
const DefaultRetention = 24 * time.Hour

const keyAttribute = "key"

// API is the subset of the DynamoDB client used by Cache. It is
// satisfied by *dynamodb.Client.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config configures a Cache.
type Config struct {
	// Table is the table name. Required.
	Table string
	// Retention is how long items are kept after their hard expiry.
	// Zero means DefaultRetention.
	Retention time.Duration
	// Logger receives diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// A ValidationError reports an unusable configuration.
type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return "httpq/cache/dynamodb: invalid configuration: " + ve.Reason
}

// Cache is a cache.Cache backed by DynamoDB.
type Cache struct {
	client    API
	table     string
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

type item struct {
	Key       string `dynamodbav:"key"`
	Entry     []byte `dynamodbav:"entry"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
	ExpiredAt int64  `dynamodbav:"expired_at"`
}

// New returns a cache using client and config.
func New(client API, config Config) (*Cache, error) {
	if client == nil {
		return nil, ValidationError{Reason: "nil client"}
	}
	if config.Table == "" {
		return nil, ValidationError{Reason: "empty table name"}
	}
	retention := config.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:    client,
		table:     config.Table,
		retention: retention,
		logger:    logger.With(zap.String("table", config.Table)),
		now:       time.Now,
	}, nil
}

// Initialize verifies that the table exists and is reachable.
func (c *Cache) Initialize(ctx context.Context) error {
	out, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.table),
	})
	if err != nil {
		return fmt.Errorf("httpq/cache/dynamodb: describe table %s: %w", c.table, err)
	}
	if out.Table != nil {
		c.logger.Debug("Cache table ready", zap.String("status", string(out.Table.TableStatus)))
	}
	return nil
}

// Get returns the entry for key.
func (c *Cache) Get(ctx context.Context, key string) (*cache.Entry, error) {
	k, err := c.key(key)
	if err != nil {
		return nil, err
	}
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, cache.ErrNotFound
	}
	var it item
	if err = attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	return cache.Unmarshal(it.Entry)
}

// Put stores e under key.
func (c *Cache) Put(ctx context.Context, key string, e *cache.Entry) error {
	if e == nil {
		return errors.New("httpq/cache/dynamodb: nil entry")
	}
	b, err := cache.Marshal(e)
	if err != nil {
		return err
	}
	now := c.now()
	expiry := e.TTL
	if expiry.Before(now) {
		expiry = now
	}
	av, err := attributevalue.MarshalMap(item{
		Key:       key,
		Entry:     b,
		UpdatedAt: now.Unix(),
		ExpiredAt: expiry.Add(c.retention).Unix(),
	})
	if err != nil {
		return err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	return err
}

// Invalidate rewrites the entry for key with its expiry times cleared.
func (c *Cache) Invalidate(ctx context.Context, key string, fullExpire bool) error {
	e, err := c.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	return c.Put(ctx, key, e.Invalidated(fullExpire))
}

// Remove deletes the entry for key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	k, err := c.key(key)
	if err != nil {
		return err
	}
	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       k,
	})
	return err
}

// Clear deletes every item in the table, one page of keys at a time.
func (c *Cache) Clear(ctx context.Context) error {
	var start map[string]types.AttributeValue
	var n int
	for {
		out, err := c.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(c.table),
			ProjectionExpression:     aws.String("#k"),
			ExpressionAttributeNames: map[string]string{"#k": keyAttribute},
			ExclusiveStartKey:        start,
		})
		if err != nil {
			return err
		}
		for _, it := range out.Items {
			if _, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(c.table),
				Key:       map[string]types.AttributeValue{keyAttribute: it[keyAttribute]},
			}); err != nil {
				return err
			}
			n++
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	c.logger.Debug("Cleared cache table", zap.Int("items", n))
	return nil
}

func (c *Cache) key(key string) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.Marshal(key)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{keyAttribute: av}, nil
}
