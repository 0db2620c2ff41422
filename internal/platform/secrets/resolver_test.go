package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	values    map[string]string
	errors    map[string]error
	callCount map[string]int
	closed    bool
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:    make(map[string]string),
		errors:    make(map[string]error),
		callCount: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.callCount[req.GetName()]++
	if err, ok := f.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error {
	f.closed = true
	return nil
}

func newTestResolver(t *testing.T, client *fakeSecretClient, opts ...Option) *Resolver {
	t.Helper()
	base := []Option{
		WithSecretManagerClient(client),
		WithProject("hf-prod"),
		WithMeter(noop.NewMeterProvider().Meter("test")),
		WithFallbackFile(""),
	}
	resolver, err := NewResolver(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return resolver
}

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	client := newFakeSecretClient()
	name := "projects/hf-prod/secrets/kafka-password/versions/latest"
	client.values[name] = "s3cret"
	resolver := newTestResolver(t, client)

	for i := 0; i < 2; i++ {
		value, err := resolver.ResolveSecret(context.Background(), "secret://kafka-password")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if value != "s3cret" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if client.callCount[name] != 1 {
		t.Fatalf("expected one remote call, got %d", client.callCount[name])
	}
}

func TestResolveSecretHonoursVersionAndProject(t *testing.T) {
	client := newFakeSecretClient()
	client.values["projects/hf-shared/secrets/kafka/password/versions/4"] = "pinned"
	resolver := newTestResolver(t, client)

	value, err := resolver.ResolveSecret(context.Background(), "sm://kafka/password?version=4&project=hf-shared")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "pinned" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveSecretFallsBackToLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "# local\nsecret://kafka-password=local-pass\nsecret://other?version=2=v2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.errors["projects/hf-prod/secrets/kafka-password/versions/latest"] = status.Error(codes.PermissionDenied, "denied")
	client.errors["projects/hf-prod/secrets/other/versions/2"] = status.Error(codes.Unavailable, "down")
	resolver := newTestResolver(t, client, WithFallbackFile(path))

	value, err := resolver.ResolveSecret(context.Background(), "secret://kafka-password")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "local-pass" {
		t.Fatalf("unexpected fallback value %q", value)
	}

	value, err = resolver.ResolveSecret(context.Background(), "secret://other?version=2")
	if err != nil || value != "v2" {
		t.Fatalf("expected versioned fallback, got %q %v", value, err)
	}

	_, err = resolver.ResolveSecret(context.Background(), "secret://other?version=3")
	if err == nil {
		t.Fatalf("expected unknown version to fail")
	}
}

func TestResolveSecretReturnsNotFoundWithoutFallback(t *testing.T) {
	client := newFakeSecretClient()
	client.errors["projects/hf-prod/secrets/gone/versions/latest"] = status.Error(codes.Unavailable, "down")
	resolver := newTestResolver(t, client)

	_, err := resolver.ResolveSecret(context.Background(), "secret://gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSecretPropagatesRemoteErrors(t *testing.T) {
	client := newFakeSecretClient()
	resolver := newTestResolver(t, client)

	_, err := resolver.ResolveSecret(context.Background(), "secret://missing")
	if err == nil || errors.Is(err, ErrNotFound) || status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected wrapped NotFound status, got %v", err)
	}
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		ref     string
		want    reference
		wantErr bool
	}{
		{ref: "secret://db", want: reference{name: "db", version: "latest"}},
		{ref: "sm://kafka/password?version=2", want: reference{name: "kafka/password", version: "2", explicitVersion: true}},
		{ref: "secret://x?project=p1", want: reference{name: "x", version: "latest", project: "p1"}},
		{ref: "https://example.com", wantErr: true},
		{ref: "secret://", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseReference(tc.ref)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.ref, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %+v want %+v", tc.ref, got, tc.want)
		}
	}
}

func TestCloseOnlyClosesOwnedClient(t *testing.T) {
	client := newFakeSecretClient()
	resolver := newTestResolver(t, client)
	if err := resolver.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.closed {
		t.Fatalf("expected injected client to stay open")
	}
}
