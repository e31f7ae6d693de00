package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/world"
)

// DynamoDBBlobStore implements world.BlobStore on the single table. All keys
// of one bucket share a partition, sorted by key. Items are capped at 400KB
// by DynamoDB, which bounds the chunk size.
type DynamoDBBlobStore struct {
	client    DynamoDBClient
	tableName string
	bucket    string
}

var _ world.BlobStore = (*DynamoDBBlobStore)(nil)

// NewDynamoDBBlobStore creates a blob store for bucket inside tableName
func NewDynamoDBBlobStore(client DynamoDBClient, tableName, bucket string) *DynamoDBBlobStore {
	return &DynamoDBBlobStore{
		client:    client,
		tableName: tableName,
		bucket:    bucket,
	}
}

func (b *DynamoDBBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: attrS(blobPK(b.bucket)),
			AttrSK: attrS(key),
		},
	})
	if err != nil {
		return nil, world.Unavailable("get blob", err)
	}
	if result.Item == nil {
		return nil, world.NotFound("blob", key)
	}

	data, ok := result.Item[AttrData].(*types.AttributeValueMemberB)
	if !ok {
		return nil, world.Internal("get blob", fmt.Errorf("blob %s data field is not binary", key))
	}
	return data.Value, nil
}

func (b *DynamoDBBlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item: map[string]types.AttributeValue{
			AttrPK:         attrS(blobPK(b.bucket)),
			AttrSK:         attrS(key),
			AttrEntityType: attrS(EntityTypeBlob),
			AttrData:       &types.AttributeValueMemberB{Value: data},
		},
	})
	if err != nil {
		return world.Unavailable("put blob", err)
	}
	return nil
}

func (b *DynamoDBBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	keyCond := "PK = :pk"
	values := map[string]types.AttributeValue{":pk": attrS(blobPK(b.bucket))}
	if prefix != "" {
		keyCond += " AND begins_with(SK, :prefix)"
		values[":prefix"] = attrS(prefix)
	}

	keys := make([]string, 0)
	var lastEvaluatedKey map[string]types.AttributeValue

	// Paginate through all results
	for {
		queryInput := &dynamodb.QueryInput{
			TableName:                 aws.String(b.tableName),
			KeyConditionExpression:    aws.String(keyCond),
			ExpressionAttributeValues: values,
			ProjectionExpression:      aws.String(AttrSK),
		}
		if lastEvaluatedKey != nil {
			queryInput.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := b.client.Query(ctx, queryInput)
		if err != nil {
			return nil, world.Unavailable("list blobs", err)
		}

		for _, item := range result.Items {
			if sk, ok := item[AttrSK].(*types.AttributeValueMemberS); ok {
				keys = append(keys, sk.Value)
			}
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}
	return keys, nil
}
