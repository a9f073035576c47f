package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

type fakeSESAPI struct {
	sendEmailFn func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
}

func (f *fakeSESAPI) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return f.sendEmailFn(ctx, params)
}

func TestSESTransportSendSimple(t *testing.T) {
	t.Parallel()

	var captured *sesv2.SendEmailInput
	api := &fakeSESAPI{
		sendEmailFn: func(_ context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			captured = params
			return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
		},
	}

	transport, err := NewSESTransportWithAPI(api, testSender, "reminders")
	if err != nil {
		t.Fatalf("NewSESTransportWithAPI() error = %v", err)
	}

	receipt, err := sendOnce(t, transport, Message{To: "ana@example.com", Subject: "Reminder", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if receipt.MessageID != "ses-msg-1" {
		t.Fatalf("MessageID = %q, want ses-msg-1", receipt.MessageID)
	}

	if got := aws.ToString(captured.FromEmailAddress); !strings.Contains(got, "billing@example.com") {
		t.Fatalf("from = %q", got)
	}
	if len(captured.Destination.ToAddresses) != 1 || captured.Destination.ToAddresses[0] != "ana@example.com" {
		t.Fatalf("destination = %v", captured.Destination.ToAddresses)
	}
	if aws.ToString(captured.ConfigurationSetName) != "reminders" {
		t.Fatalf("configuration set = %q", aws.ToString(captured.ConfigurationSetName))
	}
	if captured.Content.Simple == nil || aws.ToString(captured.Content.Simple.Body.Html.Data) != "<p>hi</p>" {
		t.Fatalf("simple content = %+v", captured.Content.Simple)
	}
	if captured.Content.Raw != nil {
		t.Fatal("raw content should be empty without attachments")
	}
}

func TestSESTransportSendRawWithAttachments(t *testing.T) {
	t.Parallel()

	var captured *sesv2.SendEmailInput
	api := &fakeSESAPI{
		sendEmailFn: func(_ context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			captured = params
			return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-2")}, nil
		},
	}

	transport, err := NewSESTransportWithAPI(api, testSender, "")
	if err != nil {
		t.Fatalf("NewSESTransportWithAPI() error = %v", err)
	}

	_, err = sendOnce(t, transport, Message{
		To:          "ana@example.com",
		Subject:     "Reminder",
		HTML:        "<p>hi</p>",
		Attachments: []Attachment{{Filename: "invoice.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if captured.Content.Raw == nil {
		t.Fatal("expected raw content")
	}
	if !strings.Contains(string(captured.Content.Raw.Data), "multipart/mixed") {
		t.Fatal("raw content should be multipart/mixed")
	}
	if captured.ConfigurationSetName != nil {
		t.Fatal("configuration set should be unset")
	}
}

func TestSESTransportErrorMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{name: "throttled", err: &sestypes.TooManyRequestsException{Message: aws.String("slow down")}, wantTransient: true},
		{name: "quota", err: &sestypes.LimitExceededException{Message: aws.String("quota")}, wantTransient: true},
		{name: "rejected", err: &sestypes.MessageRejected{Message: aws.String("bad")}, wantTransient: false},
		{name: "paused", err: &sestypes.SendingPausedException{Message: aws.String("paused")}, wantTransient: false},
		{name: "generic", err: errors.New("connection reset"), wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			api := &fakeSESAPI{
				sendEmailFn: func(context.Context, *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
					return nil, tc.err
				},
			}
			transport, err := NewSESTransportWithAPI(api, testSender, "")
			if err != nil {
				t.Fatalf("NewSESTransportWithAPI() error = %v", err)
			}

			_, err = sendOnce(t, transport, Message{To: "ana@example.com", Subject: "s", HTML: "b"})
			if !errors.Is(err, domain.ErrTransportFailure) {
				t.Fatalf("Send() error = %v, want transport failure", err)
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
		})
	}
}
