package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-trustgate/internal/domain"
)

const emailIndex = "email-index"

// CredentialRepo reads login credentials from the platform users table.
type CredentialRepo struct {
	client    API
	tableName string
}

func NewCredentialRepo(client API, tableName string) *CredentialRepo {
	return &CredentialRepo{client: client, tableName: tableName}
}

func (r *CredentialRepo) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(emailIndex),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": fieldEmail},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: domain.NormalizeEmail(email)}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var c domain.Credential
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return &c, nil
}
