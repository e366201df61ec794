package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestServeViewFailureKeepsIngestionRunning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	served := make(chan error, 1)
	g.Go(func() error {
		err := serveView(gctx, ln, http.NotFoundHandler())
		served <- err
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serveView did not return on a dead listener")
	}

	// Give the group a moment; a returned error would cancel gctx.
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, gctx.Err())

	cancel()
	assert.NoError(t, g.Wait())
}

func TestRootCommandHasVersion(t *testing.T) {
	cmd := newRootCommand()
	sub, _, err := cmd.Find([]string{"version"})
	require.NoError(t, err)
	assert.Equal(t, "version", sub.Name())
}
