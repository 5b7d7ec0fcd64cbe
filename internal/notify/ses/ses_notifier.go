package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/notify"
	"finrep/internal/port"
)

type sesNotifier struct {
	client       *sesv2.Client
	from         string
	recipients   []string
	dashboardURL string
}

// NewSESNotifier creates a new SES-backed RunNotifier.
func NewSESNotifier(ctx context.Context, cfg *config.NotifyConfig) (port.RunNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for SES: %w", err)
	}
	return NewSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESNotifierWithClient wraps an existing SES client.
func NewSESNotifierWithClient(client *sesv2.Client, cfg *config.NotifyConfig) (port.RunNotifier, error) {
	if cfg.FromAddress == "" || len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("%w: ses notifier needs a from address and at least one recipient", domain.ErrConfiguration)
	}
	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	return &sesNotifier{
		client:       client,
		from:         from,
		recipients:   cfg.Recipients,
		dashboardURL: cfg.DashboardURL,
	}, nil
}

func (s *sesNotifier) NotifyRunFailed(ctx context.Context, result *domain.RunResult) error {
	msg := notify.Build(result, s.dashboardURL)

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML)},
					Text: &types.Content{Data: aws.String(msg.Text)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("SES SendEmail: %w", err)
	}
	return nil
}
