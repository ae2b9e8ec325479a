package evocore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOpenAIClient struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	reply    string
	err      error
}

func (m *mockOpenAIClient) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, request)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Model: request.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: m.reply,
				},
			},
		},
	}, nil
}

func newTestOpenAI(t testing.TB, mock *mockOpenAIClient) *OpenAI {
	t.Helper()
	cfg := DefaultTestConfig(t)
	cfg.OpenAI.Token = fmt.Sprintf("sk-%s", t.Name())
	o := newOpenAI(cfg.OpenAI, nil)
	o.client = mock
	return o
}

func TestAskKeepsSessionHistory(t *testing.T) {
	t.Parallel()
	mock := &mockOpenAIClient{reply: "hello there"}
	o := newTestOpenAI(t, mock)
	ctx := context.Background()

	reply, err := o.Ask(ctx, "user1", "first question")
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)

	_, err = o.Ask(ctx, "user1", "second question")
	require.NoError(t, err)

	require.Len(t, mock.requests, 2)
	// second request carries the system prompt, both questions and the
	// first reply
	second := mock.requests[1]
	require.Len(t, second.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, second.Messages[0].Role)
	assert.Equal(t, "first question", second.Messages[1].Content)
	assert.Equal(t, "hello there", second.Messages[2].Content)
	assert.Equal(t, "second question", second.Messages[3].Content)
}

func TestAskSessionsAreIsolatedPerUser(t *testing.T) {
	t.Parallel()
	mock := &mockOpenAIClient{reply: "ok"}
	o := newTestOpenAI(t, mock)
	ctx := context.Background()

	_, err := o.Ask(ctx, "user1", "user one question")
	require.NoError(t, err)
	_, err = o.Ask(ctx, "user2", "user two question")
	require.NoError(t, err)

	require.Len(t, mock.requests, 2)
	// the second user's request has no cross-contamination
	require.Len(t, mock.requests[1].Messages, 2)
	assert.Equal(t, "user two question", mock.requests[1].Messages[1].Content)
}

func TestChatSessionTrim(t *testing.T) {
	t.Parallel()
	s := &chatSession{
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "system"},
		},
	}
	for n := 0; n < 20; n++ {
		s.messages = append(
			s.messages,
			openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("q%d", n),
			},
			openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: fmt.Sprintf("a%d", n),
			},
		)
	}

	s.trim(3)
	require.Len(t, s.messages, 7)
	assert.Equal(t, "system", s.messages[0].Content)
	assert.Equal(t, "q17", s.messages[1].Content)
	assert.Equal(t, "a19", s.messages[6].Content)
}

func TestSessionEviction(t *testing.T) {
	t.Parallel()
	mock := &mockOpenAIClient{reply: "ok"}
	o := newTestOpenAI(t, mock)
	o.config.SessionTTL = 10 * time.Millisecond

	_, err := o.Ask(context.Background(), "user1", "hi")
	require.NoError(t, err)

	o.sessionMu.Lock()
	require.Contains(t, o.sessions, "user1")
	o.sessions["user1"].lastActive = time.Now().Add(-time.Minute)
	o.sessionMu.Unlock()

	o.evictExpiredSessions()

	o.sessionMu.Lock()
	assert.NotContains(t, o.sessions, "user1")
	o.sessionMu.Unlock()
}

func TestAskCompletionError(t *testing.T) {
	t.Parallel()
	mock := &mockOpenAIClient{err: fmt.Errorf("rate limited")}
	o := newTestOpenAI(t, mock)

	_, err := o.Ask(context.Background(), "user1", "hi")
	require.Error(t, err)
}
