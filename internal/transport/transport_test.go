package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	host := strings.TrimPrefix(srv.URL, "https://")
	hostOnly, portStr, found := strings.Cut(host, ":")
	require.True(t, found)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(Endpoint{Hosts: []string{hostOnly}, Port: port, APIToken: "user@pve!id=secret", TLSVerify: false}, zerolog.Nop())
	c.http = srv.Client()
	return c
}

func TestClassifyStatus(t *testing.T) {
	kind, retriable := classifyStatus(200)
	require.Equal(t, Kind(""), kind)
	require.False(t, retriable)

	kind, retriable = classifyStatus(401)
	require.Equal(t, KindAuth, kind)
	require.False(t, retriable)

	kind, retriable = classifyStatus(503)
	require.Equal(t, KindRemote, kind)
	require.True(t, retriable)
}

func TestFormSuccess(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PVEAPIToken=user@pve!id=secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"status":"running"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	raw, err := c.Form(context.Background(), "GET", "/nodes/pve/qemu/100/status/current", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"running"}`, string(raw))
}

func TestFormNonRetriableStatusFailsFast(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.Form(context.Background(), "GET", "/nodes/pve/qemu/999/status/current", nil)
	require.Error(t, err)
	statusErr, ok := err.(*StatusError)
	require.True(t, ok)
	require.Equal(t, KindNotFound, statusErr.Kind)
}

func TestFormNoHostsConfigured(t *testing.T) {
	c := NewClient(Endpoint{}, zerolog.Nop())
	_, err := c.Form(context.Background(), "GET", "/x", nil)
	require.Error(t, err)
}

func TestChunkedReaderCoversFullPayload(t *testing.T) {
	data := make([]byte, chunkMaxBytes*2+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	r := newChunkedReader(data)
	buf := make([]byte, 0, len(data))
	chunk := make([]byte, chunkMaxBytes)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	require.Equal(t, data, buf)
}
