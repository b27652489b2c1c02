// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

func teapot(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func newTestServer(t *testing.T, allowedHosts []string) *server {
	t.Helper()

	s, err := New(
		log.NewNoOpLogger(),
		nil,
		[]string{"*"},
		allowedHosts,
		time.Second,
		ids.EmptyNodeID,
		prometheus.NewRegistry(),
		DefaultHTTPConfig(),
	)
	require.NoError(t, err)
	return s.(*server)
}

func TestAddRouteServesWithNodeID(t *testing.T) {
	require := require.New(t)

	s := newTestServer(t, nil)
	require.NoError(s.AddRoute(http.HandlerFunc(teapot), "bc/chain", ""))

	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ext/bc/chain", nil))
	require.Equal(http.StatusTeapot, w.Code)
	require.Equal(ids.EmptyNodeID.String(), w.Header().Get(HTTPHeaderNodeID))

	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ext/bc/other", nil))
	require.Equal(http.StatusNotFound, w.Code)
}

func TestAddAliases(t *testing.T) {
	require := require.New(t)

	s := newTestServer(t, nil)
	require.NoError(s.AddRoute(http.HandlerFunc(teapot), "bc/chain", ""))
	require.NoError(s.AddAliases("bc/chain", "bc/alias"))

	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ext/bc/alias", nil))
	require.Equal(http.StatusTeapot, w.Code)

	err := s.AddAliases("bc/chain", "bc/alias")
	require.ErrorIs(err, errAlreadyReserved)
}

func TestFilterInvalidHosts(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		host     string
		wantCode int
	}{
		{name: "no filter", host: "example.com", wantCode: http.StatusTeapot},
		{name: "wildcard", allowed: []string{"*"}, host: "example.com", wantCode: http.StatusTeapot},
		{name: "allowed", allowed: []string{"localhost"}, host: "LocalHost:9650", wantCode: http.StatusTeapot},
		{name: "ip", allowed: []string{"localhost"}, host: "127.0.0.1:9650", wantCode: http.StatusTeapot},
		{name: "rejected", allowed: []string{"localhost"}, host: "evil.com", wantCode: http.StatusForbidden},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := filterInvalidHosts(http.HandlerFunc(teapot), test.allowed)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = test.host
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, test.wantCode, w.Code)
		})
	}
}

func TestDispatchAndShutdown(t *testing.T) {
	require := require.New(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	s, err := New(
		log.NewNoOpLogger(),
		listener,
		nil,
		nil,
		time.Second,
		ids.EmptyNodeID,
		prometheus.NewRegistry(),
		DefaultHTTPConfig(),
	)
	require.NoError(err)

	errs := make(chan error, 1)
	go func() {
		errs <- s.Dispatch()
	}()
	require.NoError(s.Shutdown())
	require.ErrorIs(<-errs, http.ErrServerClosed)
}
