package booking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// EventTypeBookingRequested labels queued booking messages.
const EventTypeBookingRequested = "booking.requested"

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueRecorder publishes bookings to an SQS queue for downstream systems.
type QueueRecorder struct {
	client   sqsAPI
	queueURL string
}

func NewQueueRecorder(client sqsAPI, queueURL string) *QueueRecorder {
	if client == nil {
		panic("booking: sqs client cannot be nil")
	}
	if queueURL == "" {
		panic("booking: queue url cannot be empty")
	}
	return &QueueRecorder{client: client, queueURL: queueURL}
}

func (q *QueueRecorder) Record(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("booking: marshal event: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(EventTypeBookingRequested)},
		},
	})
	if err != nil {
		return fmt.Errorf("booking: enqueue event: %w", err)
	}
	return nil
}
