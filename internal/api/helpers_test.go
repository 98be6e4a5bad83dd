package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nrpatel890/email-agent/internal/agent"
	"github.com/nrpatel890/email-agent/internal/delivery"
	"github.com/nrpatel890/email-agent/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const rawHiEmail = "From: Jane Doe <jane@example.com>\r\n" +
	"To: leasing@example.com\r\n" +
	"Subject: Hi\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Is the one-bedroom still available?\r\n"

// mockDrafter is a testify mock of agent.ReplyDrafter.
type mockDrafter struct {
	mock.Mock
}

func (m *mockDrafter) DraftReply(ctx context.Context, params agent.DraftReplyParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

// mockSender is a testify mock of delivery.Sender.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg delivery.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// mockParser is a testify mock of ingest.MessageParser.
type mockParser struct {
	mock.Mock
}

func (m *mockParser) Parse(r io.Reader) (*models.NewInboundEmail, error) {
	args := m.Called(r)
	fields, _ := args.Get(0).(*models.NewInboundEmail)
	return fields, args.Error(1)
}

// recordingNotifier collects published events as "type:id".
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Publish(eventType, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType+":"+id)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newInboundRequest builds the multipart webhook request a provider would send.
// The raw message goes in a file part when asFile is set and in a text field otherwise.
func newInboundRequest(t *testing.T, raw string, asFile bool) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if asFile {
		part, err := writer.CreateFormFile("email", "message.eml")
		require.NoError(t, err)
		_, err = part.Write([]byte(raw))
		require.NoError(t, err)
	} else {
		require.NoError(t, writer.WriteField("email", raw))
	}
	require.NoError(t, writer.WriteField("to", "leasing@example.com"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/email/inbound", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// withPathValue sets a path wildcard the way the mux does for routed requests.
func withPathValue(req *http.Request, name, value string) *http.Request {
	req.SetPathValue(name, value)
	return req
}
