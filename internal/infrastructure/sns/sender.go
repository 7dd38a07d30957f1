package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-trustgate/internal/config"
	"github.com/go-trustgate/internal/domain"
)

// maxSubjectLen is the SNS limit on the Subject field.
const maxSubjectLen = 100

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher hands rendered messages to an SNS topic. A mail worker
// subscribed to the topic does the final delivery.
type Publisher struct {
	client   publishAPI
	topicARN string
}

type envelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

func NewPublisher(ctx context.Context, cfg *config.Config) (*Publisher, error) {
	if cfg.SNSTopicARN == "" {
		return nil, fmt.Errorf("SNS_TOPIC_ARN is empty: %w", domain.ErrConfiguration)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SNSRegion))
	if err != nil {
		return nil, err
	}
	var opts []func(*sns.Options)
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return &Publisher{client: sns.NewFromConfig(awsCfg, opts...), topicARN: cfg.SNSTopicARN}, nil
}

func (p *Publisher) Send(ctx context.Context, msg domain.Message) error {
	body, err := json.Marshal(envelope{To: msg.To, Subject: msg.Subject, Text: msg.Text, HTML: msg.HTML})
	if err != nil {
		return fmt.Errorf("marshal sns message: %w", err)
	}
	subject := msg.Subject
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String("email")},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
