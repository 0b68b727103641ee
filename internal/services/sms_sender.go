package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	pkglogger "github.com/taskhive/taskhive/pkg/logger"
)

// SMSSender defines the interface for dispatching SMS messages
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// SNSSMSSender sends SMS messages through AWS SNS
type SNSSMSSender struct {
	snsClient *sns.Client
	senderID  string
	logger    *slog.Logger
}

// NewSNSSMSSender creates a new AWS SNS SMS sender
func NewSNSSMSSender(region, senderID string, logger *slog.Logger) (*SNSSMSSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SNSSMSSender{
		snsClient: sns.NewFromConfig(cfg),
		senderID:  senderID,
		logger:    logger,
	}, nil
}

// SendSMS publishes a transactional SMS directly to a phone number
func (s *SNSSMSSender) SendSMS(ctx context.Context, phone, message string) error {
	_, err := s.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.senderID),
			},
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		s.logger.Error("failed to publish SMS",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send SMS: %w", err)
	}

	s.logger.Info("SMS dispatched", slog.String("phone", pkglogger.SanitizedPhone(phone)))
	return nil
}

// LogSMSSender writes messages to the log instead of dispatching them,
// for development and tests.
type LogSMSSender struct {
	logger *slog.Logger
}

func NewLogSMSSender(logger *slog.Logger) *LogSMSSender {
	return &LogSMSSender{logger: logger}
}

func (s *LogSMSSender) SendSMS(ctx context.Context, phone, message string) error {
	s.logger.Info("SMS (log sender)",
		slog.String("phone", pkglogger.SanitizedPhone(phone)),
		slog.String("message", message))
	return nil
}
