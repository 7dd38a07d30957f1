package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-trustgate/internal/domain"
)

// OTPChallengeRepo stores OTP challenges.
// PK: challenge_key (purpose#email), SK: challenge_id (ULID). TTL attribute: expires_at.
type OTPChallengeRepo struct {
	client    API
	tableName string
}

func NewOTPChallengeRepo(client API, tableName string) *OTPChallengeRepo {
	return &OTPChallengeRepo{client: client, tableName: tableName}
}

func (r *OTPChallengeRepo) Put(ctx context.Context, c *domain.OTPChallenge) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal otp challenge: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#sk)"),
		ExpressionAttributeNames: map[string]string{"#sk": fieldChallengeID},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("otp challenge %s exists: %w", c.ChallengeID, domain.ErrConflict)
	}
	return err
}

// Latest returns the newest challenge under key, consumed or not.
func (r *OTPChallengeRepo) Latest(ctx context.Context, key string) (*domain.OTPChallenge, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  map[string]string{"#pk": fieldChallengeKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: key}},
		ScanIndexForward:          aws.Bool(false),
		ConsistentRead:            aws.Bool(true),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("otp challenge not found: %w", domain.ErrNotFound)
	}
	var c domain.OTPChallenge
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, fmt.Errorf("unmarshal otp challenge: %w", err)
	}
	return &c, nil
}

// IncrementAttempts adds one attempt unless the challenge is consumed or
// already at maxAttempts, in which case ErrConflict is returned.
func (r *OTPChallengeRepo) IncrementAttempts(ctx context.Context, key, challengeID string, maxAttempts int) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              compositeKey(fieldChallengeKey, key, fieldChallengeID, challengeID),
		UpdateExpression: aws.String("ADD #a :one"),
		ConditionExpression: aws.String(
			"attribute_exists(#sk) AND attribute_not_exists(#c) AND #a < :max"),
		ExpressionAttributeNames: map[string]string{
			"#a":  fieldAttempts,
			"#c":  fieldConsumedAt,
			"#sk": fieldChallengeID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(maxAttempts)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if isConditionFailed(err) {
		return 0, fmt.Errorf("otp challenge closed: %w", domain.ErrConflict)
	}
	if err != nil {
		return 0, err
	}
	n, ok := out.Attributes[fieldAttempts].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("update attempts: missing %s in response", fieldAttempts)
	}
	return strconv.Atoi(n.Value)
}

// Consume sets consumed_at if it is not already set. A second call returns ErrConflict.
func (r *OTPChallengeRepo) Consume(ctx context.Context, key, challengeID string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldConsumedAt: at.UTC()})
	if err != nil {
		return err
	}
	ue.Names["#sk"] = fieldChallengeID
	ue.Names["#c"] = fieldConsumedAt
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldChallengeKey, key, fieldChallengeID, challengeID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#sk) AND attribute_not_exists(#c)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("otp challenge already consumed: %w", domain.ErrConflict)
	}
	return err
}

func (r *OTPChallengeRepo) MarkDispatched(ctx context.Context, key, challengeID string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldDispatched: true})
	if err != nil {
		return err
	}
	ue.Names["#sk"] = fieldChallengeID
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldChallengeKey, key, fieldChallengeID, challengeID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#sk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("otp challenge not found: %w", domain.ErrNotFound)
	}
	return err
}
