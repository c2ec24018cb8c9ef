// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/jgbrblmd/seed-vc/internal/objectstore"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	bucketName := "vc-audio-test"
	store, err := objectstore.New(jetstreamContext, bucketName)
	require.NoError(t, err)

	ctx := context.Background()
	key := "intake/source-clip.wav"
	uploadData := []byte{'R', 'I', 'F', 'F', 0x10, 0x00, 0x00, 0x00}

	err = store.Upload(ctx, key, uploadData)
	require.NoError(t, err)

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)

	require.Equal(t, uploadData, downloadData)
}

func TestNatsObjectStore_BindExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	bucketName := "vc-audio-rebind"

	first, err := objectstore.New(jetstreamContext, bucketName)
	require.NoError(t, err)

	ctx := context.Background()

	err = first.Upload(ctx, "artifacts/full.wav", []byte("artifact"))
	require.NoError(t, err)

	// A second construction must bind to the same bucket, not fail.
	second, err := objectstore.New(jetstreamContext, bucketName)
	require.NoError(t, err)

	data, err := second.Download(ctx, "artifacts/full.wav")
	require.NoError(t, err)
	require.Equal(t, []byte("artifact"), data)
}

func TestNatsObjectStore_Delete(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "vc-audio-delete")
	require.NoError(t, err)

	ctx := context.Background()

	err = store.Upload(ctx, "intake/reference.wav", []byte("reference"))
	require.NoError(t, err)

	err = store.Delete(ctx, "intake/reference.wav")
	require.NoError(t, err)

	_, err = store.Download(ctx, "intake/reference.wav")
	require.Error(t, err)
}
