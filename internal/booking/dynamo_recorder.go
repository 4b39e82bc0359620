package booking

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoRecorder writes bookings to a DynamoDB table keyed by id.
type DynamoRecorder struct {
	client    dynamoAPI
	tableName string
}

func NewDynamoRecorder(client dynamoAPI, tableName string) *DynamoRecorder {
	if client == nil {
		panic("booking: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("booking: table name cannot be empty")
	}
	return &DynamoRecorder{client: client, tableName: tableName}
}

func (r *DynamoRecorder) Record(ctx context.Context, rec Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("booking: marshal record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("booking: put record: %w", err)
	}
	return nil
}
