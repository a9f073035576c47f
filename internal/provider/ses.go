package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the subset of the SES v2 client used by SESTransport.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport delivers through Amazon SES v2. Messages with attachments are
// sent as raw MIME.
type SESTransport struct {
	api           SESAPI
	sender        Sender
	configSetName string
	now           func() time.Time
}

func NewSESTransport(awsCfg aws.Config, sender Sender, configSetName string) (*SESTransport, error) {
	return NewSESTransportWithAPI(sesv2.NewFromConfig(awsCfg), sender, configSetName)
}

func NewSESTransportWithAPI(api SESAPI, sender Sender, configSetName string) (*SESTransport, error) {
	if api == nil {
		return nil, fmt.Errorf("ses api is required")
	}
	if err := sender.Validate(); err != nil {
		return nil, err
	}

	return &SESTransport{
		api:           api,
		sender:        sender,
		configSetName: configSetName,
		now:           time.Now,
	}, nil
}

func (t *SESTransport) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sesSession{transport: t}, nil
}

type sesSession struct {
	transport *SESTransport
	closed    bool
}

func (s *sesSession) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if s.closed {
		return nil, fmt.Errorf("ses session is closed")
	}
	if err := msg.validate(); err != nil {
		return nil, &ProviderError{Message: "invalid message", Cause: err}
	}

	t := s.transport
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.sender.String()),
		Destination: &sestypes.Destination{
			ToAddresses: []string{msg.To},
		},
	}
	if t.configSetName != "" {
		input.ConfigurationSetName = aws.String(t.configSetName)
	}

	if len(msg.Attachments) > 0 {
		raw, err := BuildMIME(t.sender, msg, "", t.now())
		if err != nil {
			return nil, &ProviderError{Message: "failed to build message", Cause: err}
		}
		input.Content = &sestypes.EmailContent{
			Raw: &sestypes.RawMessage{Data: raw},
		}
	} else {
		input.Content = &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{
					Html: &sestypes.Content{
						Data:    aws.String(msg.HTML),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		}
	}

	out, err := t.api.SendEmail(ctx, input)
	if err != nil {
		return nil, mapSESError(err)
	}

	receipt := &Receipt{}
	if out != nil && out.MessageId != nil {
		receipt.MessageID = *out.MessageId
	}
	return receipt, nil
}

func (s *sesSession) Close() error {
	s.closed = true
	return nil
}

func mapSESError(err error) error {
	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return &ProviderError{Message: "ses rate limit exceeded", Transient: true, Cause: err}
	}

	var limitExceeded *sestypes.LimitExceededException
	if errors.As(err, &limitExceeded) {
		return &ProviderError{Message: "ses sending quota exceeded", Transient: true, Cause: err}
	}

	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return &ProviderError{Message: "ses rejected message", Cause: err}
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return &ProviderError{Message: "ses account sending paused", Cause: err}
	}

	return &ProviderError{
		Message:   "ses request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
