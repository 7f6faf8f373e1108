package jetstreamtransport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/covgateway/gateway/eventstream"
	"github.com/covgateway/gateway/natsclient"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startNATSContainer brings up a real NATS server with JetStream
// enabled so the transport can be exercised against a real durable
// pull consumer rather than a fake.
func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js", "-m", "8222"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)
	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())
	time.Sleep(200 * time.Millisecond)
	return natsContainer, natsURL
}

func newTestClient(ctx context.Context, t *testing.T, streamName, subject string) *natsclient.Client {
	t.Helper()
	container, natsURL := startNATSContainer(ctx, t)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	client, err := natsclient.NewClient(natsURL)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { client.Close(ctx) })

	_, err = client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject},
	})
	require.NoError(t, err)
	return client
}

func TestJetStreamTransportFetchAckAdvancesConsumer(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(ctx, t, "events", "events.raw")

	for i := 0; i < 3; i++ {
		require.NoError(t, client.PublishToStream(ctx, "events.raw", []byte(fmt.Sprintf("event-%d", i))))
	}

	transport := New(client, "events", "sub-1", 0)
	start, err := transport.ResolveStartPosition(ctx, eventstream.StartBegin, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), start)

	require.NoError(t, transport.Reconnect(ctx))

	batch, err := transport.FetchBatch(ctx, start, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, uint64(1), batch[0].StreamPosition)
	require.Equal(t, uint64(3), batch[2].StreamPosition)

	for _, ev := range batch {
		require.NoError(t, transport.Ack(ctx, ev))
	}

	require.NoError(t, transport.PersistCursor(ctx, "sub-1", batch[2].StreamPosition))
}

func TestJetStreamTransportNakRetryRedelivers(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(ctx, t, "events", "events.raw")
	require.NoError(t, client.PublishToStream(ctx, "events.raw", []byte("event-0")))

	transport := New(client, "events", "sub-retry", 0)
	require.NoError(t, transport.Reconnect(ctx))

	batch, err := transport.FetchBatch(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, transport.Nak(ctx, batch[0], eventstream.ActionRetry))

	var redelivered []eventstream.RawEvent
	require.Eventually(t, func() bool {
		redelivered, err = transport.FetchBatch(ctx, 0, 10)
		return err == nil && len(redelivered) == 1
	}, 5*time.Second, 100*time.Millisecond)
	require.Equal(t, batch[0].StreamPosition, redelivered[0].StreamPosition)
}

func TestJetStreamTransportSkipStopsRedelivery(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(ctx, t, "events", "events.raw")
	require.NoError(t, client.PublishToStream(ctx, "events.raw", []byte("event-0")))

	transport := New(client, "events", "sub-skip", 0)
	require.NoError(t, transport.Reconnect(ctx))

	batch, err := transport.FetchBatch(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, transport.Nak(ctx, batch[0], eventstream.ActionSkip))

	time.Sleep(500 * time.Millisecond)
	redelivered, err := transport.FetchBatch(ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, redelivered)
}
