//go:build integration

package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/config"
	"github.com/c360/networker/natsclient"
	"github.com/c360/networker/playerdata"
)

func TestApp_ServerAndClientOverNATS(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := slog.Default()

	serverCfg := config.Default()
	serverCfg.NATS.URL = tc.URL
	serverCfg.Metrics.Enabled = false
	serverCfg.PlayerData.Backend = config.BackendKV
	require.NoError(t, serverCfg.Validate())

	server, err := newApp(ctx, serverCfg, logger)
	require.NoError(t, err)
	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.run(serverCtx, 5*time.Second) }()

	clientCfg := config.Default()
	clientCfg.Role = "client"
	clientCfg.PeerID = 31
	clientCfg.NATS.URL = tc.URL
	clientCfg.Metrics.Enabled = false
	require.NoError(t, clientCfg.Validate())

	client, err := newApp(ctx, clientCfg, logger)
	require.NoError(t, err)
	clientCtx, stopClient := context.WithCancel(ctx)
	clientDone := make(chan error, 1)
	go func() { clientDone <- client.run(clientCtx, 5*time.Second) }()

	require.Eventually(t, func() bool {
		_, ok := server.sessions.Get(31)
		return ok
	}, 10*time.Second, 50*time.Millisecond)

	money, err := playerdata.Balance(ctx, client.router, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(100), money)

	d, _ := server.sessions.Get(31)
	require.NoError(t, d.AddMoney(11))

	stopClient()
	require.NoError(t, <-clientDone)
	require.Eventually(t, func() bool {
		_, ok := server.sessions.Get(channel.PeerID(31))
		return !ok
	}, 10*time.Second, 50*time.Millisecond, "leave closes the session")

	store, err := playerdata.OpenKVStore(ctx, tc.Client, serverCfg.PlayerData.Bucket)
	require.NoError(t, err)
	saved, err := store.Load(ctx, 31)
	require.NoError(t, err)
	assert.Equal(t, 111, saved.Money)

	assert.True(t, server.monitor.AggregateHealth(appName).IsHealthy())

	stopServer()
	require.NoError(t, <-serverDone)
}
