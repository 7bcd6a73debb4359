package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func okCheck() Checker {
	return CheckerFunc(func(context.Context, time.Duration) error { return nil })
}

func downCheck() Checker {
	return CheckerFunc(func(context.Context, time.Duration) error { return errors.New("connection refused") })
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Checker
		code   int
		want   map[string]ServiceStatus
	}{
		{
			name:   "all up",
			checks: map[string]Checker{"document_store": okCheck()},
			code:   http.StatusOK,
			want:   map[string]ServiceStatus{"document_store": {Status: "ok"}},
		},
		{
			name:   "store down",
			checks: map[string]Checker{"document_store": downCheck()},
			code:   http.StatusServiceUnavailable,
			want:   map[string]ServiceStatus{"document_store": {Status: "down", Details: "connection refused"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewRouter(Options{Checks: tt.checks, Gatherer: prometheus.NewRegistry()}))
			defer srv.Close()

			res, err := http.Get(srv.URL + "/healthz")
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer res.Body.Close()
			if res.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.code)
			}
			var body HealthResponse
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, body.Services); diff != "" {
				t.Errorf("services mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "permit_intake_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	NewRouter(Options{Gatherer: reg}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "permit_intake_test_total 1") {
		t.Errorf("counter missing from exposition:\n%s", rec.Body.String())
	}
}

func TestGRPCHealth(t *testing.T) {
	var up = true
	check := CheckerFunc(func(context.Context, time.Duration) error {
		if up {
			return nil
		}
		return errors.New("down")
	})
	g := NewGRPCHealth(map[string]Checker{"document_store": check}, time.Hour, nil)

	lis := bufconn.Listen(1 << 16)
	go func() { _ = g.Server.Serve(lis) }()
	defer g.Server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	for _, tt := range []struct {
		up   bool
		want healthpb.HealthCheckResponse_ServingStatus
	}{
		{true, healthpb.HealthCheckResponse_SERVING},
		{false, healthpb.HealthCheckResponse_NOT_SERVING},
	} {
		up = tt.up
		g.Refresh(context.Background())
		res, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if res.GetStatus() != tt.want {
			t.Errorf("up=%v: status = %v, want %v", tt.up, res.GetStatus(), tt.want)
		}
	}
}
