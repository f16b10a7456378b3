package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishSendsJSONWithEventType(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "wage-etl-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "runs")
	require.NoError(t, err)

	pub, err := NewWithClient(client, "runs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "run.completed", map[string]string{"status": "SUCCESS"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"status":"SUCCESS"}`, string(msgs[0].Data))
	assert.Equal(t, "run.completed", msgs[0].Attributes[EventTypeAttribute])
}

func TestPublisherRequiresConfiguration(t *testing.T) {
	t.Parallel()

	_, err := NewWithClient(nil, "runs")
	require.Error(t, err)
	_, err = New(context.Background(), "", "runs")
	require.Error(t, err)

	var p *Publisher
	_, err = p.Publish(context.Background(), "run.completed", nil)
	require.Error(t, err)
	require.NoError(t, p.Close())
}
