package redis

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/platform/retry"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL, retry.DefaultPolicy)
	require.NoError(t, err)
	require.NoError(t, client.FlushAll(ctx).Err())

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_Connects(t *testing.T) {
	client := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not a url", retry.DefaultPolicy)
	assert.Error(t, err)
}

func TestPublisher_PublishesEventAndViewerCount(t *testing.T) {
	client := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewPublisher(client, "", "")
	event := domain.Event{
		Type:       domain.EventSessionAdmitted,
		At:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		SessionID:  uuid.New(),
		RemoteAddr: "10.1.1.1:5555",
		Transport:  "telnet",
		Active:     3,
	}
	require.NoError(t, pub.Publish(ctx, event))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got domain.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, event.Type, got.Type)
	assert.Equal(t, event.SessionID, got.SessionID)
	assert.Equal(t, int64(3), got.Active)

	viewers, err := client.Get(ctx, DefaultViewersKey).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(3), viewers)
}

func TestPublisher_RejectionLeavesViewerCount(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	pub := NewPublisher(client, "test:events", "test:viewers")
	require.NoError(t, pub.Publish(ctx, domain.Event{Type: domain.EventPlaybackStarted, Active: 1}))
	require.NoError(t, pub.Publish(ctx, domain.Event{Type: domain.EventSessionRejected}))

	viewers, err := client.Get(ctx, "test:viewers").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), viewers)
	assert.NoError(t, pub.Ping(ctx))
}
