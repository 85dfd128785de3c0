package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestServe(t *testing.T) {
	counter := NewCounter("served", "test", "counter exposed by the test", []string{"kind"})
	counter.WithLabelValues("a").Add(3)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, ln, zaptest.NewLogger(t)) }()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)
	require.Contains(t, string(body), `pictosend_test_served{kind="a"} 3`)

	cancel()
	require.NoError(t, <-errc)
}

func TestStartCollectingMetricsInvalidAddr(t *testing.T) {
	err := StartCollectingMetrics(context.Background(), "127.0.0.1:99999", zaptest.NewLogger(t))
	require.ErrorContains(t, err, "listen for metrics")
}

func TestStartPushingMetrics(t *testing.T) {
	type request struct {
		method, path, header string
	}
	requests := make(chan request, 16)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case requests <- request{method: r.Method, path: r.URL.Path, header: r.Header.Get("X-Token")}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gateway.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartPushingMetrics(ctx, zaptest.NewLogger(t), gateway.URL,
			map[string]string{"X-Token": "secret"}, 10*time.Millisecond, "test")
	}()

	select {
	case req := <-requests:
		require.Equal(t, http.MethodPut, req.method)
		require.Equal(t, "/metrics/job/pictosend/instance/test", req.path)
		require.Equal(t, "secret", req.header)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no push received")
	}
	cancel()
	<-done
}
