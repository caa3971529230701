package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSPublisher publishes change events to AWS SQS queues. The topic is used
// as the queue name; queue URLs are resolved once and cached.
type SQSPublisher struct {
	client *sqs.Client

	mu   sync.Mutex
	urls map[string]string
}

// NewSQSPublisher creates an SQS publisher. If endpoint is non-empty it is
// used as the service endpoint (for LocalStack and similar).
func NewSQSPublisher(ctx context.Context, region, endpoint string) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var opts []func(*sqs.Options)
	if endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &SQSPublisher{
		client: sqs.NewFromConfig(cfg, opts...),
		urls:   make(map[string]string),
	}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	url, err := p.queueURL(ctx, topic)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

func (p *SQSPublisher) queueURL(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url, ok := p.urls[name]; ok {
		return url, nil
	}
	out, err := p.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("sqs resolve queue %s: %w", name, err)
	}
	p.urls[name] = *out.QueueUrl
	return *out.QueueUrl, nil
}

func (p *SQSPublisher) Close() error {
	return nil
}
