package email

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Send(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

type fakePostmark struct {
	got  postmark.Email
	resp postmark.EmailResponse
	err  error
}

func (f *fakePostmark) SendEmail(_ context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.got = email
	return f.resp, f.err
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid", Message{To: "a@example.com", Subject: "s", TextBody: "b"}, false},
		{"no recipient", Message{Subject: "s", TextBody: "b"}, true},
		{"bad recipient", Message{To: "nope", Subject: "s", TextBody: "b"}, true},
		{"no subject", Message{To: "a@example.com", TextBody: "b"}, true},
		{"no body", Message{To: "a@example.com", Subject: "s"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewService(t *testing.T) {
	_, err := NewService(Config{Provider: "fax"}, logger.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{Provider: ProviderSMTP, SenderEmail: "noreply@example.com"}, logger.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{Provider: ProviderPostmark, PostmarkServerToken: "t", SenderEmail: "bad"}, logger.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	svc, err := NewService(Config{Provider: ProviderPostmark, PostmarkServerToken: "t", SenderEmail: "noreply@example.com"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &PostmarkService{}, svc)

	svc, err = NewService(Config{}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LogService{}, svc)
}

func TestSMTPService_Send(t *testing.T) {
	svc, err := NewSMTPService(Config{SMTPHost: "localhost", SenderEmail: "noreply@example.com", SenderName: "ulearn"})
	require.NoError(t, err)
	d := &fakeDialer{}
	svc.dialer = d

	require.NoError(t, svc.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", HTMLBody: "<b>x</b>"}))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"a@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Hi"}, d.sent[0].GetHeader("Subject"))

	d.err = errors.New("connection refused")
	err = svc.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", TextBody: "x"})
	assert.ErrorIs(t, err, ErrFailedToSendEmail)
}

func TestPostmarkService_Send(t *testing.T) {
	svc, err := NewPostmarkService(Config{PostmarkServerToken: "t", SenderEmail: "noreply@example.com", SenderName: "ulearn", SupportEmail: "support@example.com"})
	require.NoError(t, err)
	fake := &fakePostmark{}
	svc.client = fake

	require.NoError(t, svc.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", HTMLBody: "x", Tag: "digest"}))
	assert.Equal(t, "ulearn <noreply@example.com>", fake.got.From)
	assert.Equal(t, "support@example.com", fake.got.ReplyTo)
	assert.Equal(t, "digest", fake.got.Tag)

	fake.resp = postmark.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}
	err = svc.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", HTMLBody: "x"})
	assert.ErrorIs(t, err, ErrFailedToSendEmail)
	assert.ErrorContains(t, err, "inactive recipient")
}

func TestReadAddresses(t *testing.T) {
	addresses, err := ReadAddresses(strings.NewReader("a@example.com\n\n# comment\n  b@example.com  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, addresses)
}

func TestReadContent(t *testing.T) {
	subject, body, err := ReadContent(strings.NewReader("Course update\r\n<p>Hello</p>\n<p>Bye</p>\n"))
	require.NoError(t, err)
	assert.Equal(t, "Course update", subject)
	assert.Equal(t, "<p>Hello</p>\n<p>Bye</p>", body)

	_, _, err = ReadContent(strings.NewReader("\nbody"))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, _, err = ReadContent(strings.NewReader("subject only"))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestBulkSender_Run(t *testing.T) {
	dir := t.TempDir()
	addresses := filepath.Join(dir, "emails.txt")
	content := filepath.Join(dir, "content.txt")
	require.NoError(t, os.WriteFile(addresses, []byte("a@example.com\nb@example.com\n"), 0o644))
	require.NoError(t, os.WriteFile(content, []byte("News\n<p>text</p>"), 0o644))

	svc := &mockService{}
	svc.On("Send", mock.Anything, Message{To: "a@example.com", Subject: "News", HTMLBody: "<p>text</p>"}).Return(nil)
	svc.On("Send", mock.Anything, Message{To: "b@example.com", Subject: "News", HTMLBody: "<p>text</p>"}).Return(errors.New("rejected"))

	sender := NewBulkSender(svc, BulkConfig{AddressesFile: addresses, ContentFile: content, RatePerSecond: 1000}, logger.Nop())
	result, err := sender.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []string{"b@example.com"}, result.Failed)
	svc.AssertExpectations(t)
}

func TestBulkSender_MissingFile(t *testing.T) {
	sender := NewBulkSender(&mockService{}, BulkConfig{AddressesFile: "/nonexistent/emails.txt"}, logger.Nop())
	_, err := sender.Run(context.Background())
	assert.ErrorContains(t, err, "failed to open")
}
