package rpcclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifyTransientCodes(t *testing.T) {
	transient := []codes.Code{codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted}
	for _, c := range transient {
		err := status.Error(c, "boom")
		fe := classify(err)
		if !fe.Transient {
			t.Errorf("classify(%v): Transient = false, want true", c)
		}
	}
}

func TestClassifyFatalCodes(t *testing.T) {
	fatal := []codes.Code{codes.NotFound, codes.InvalidArgument, codes.PermissionDenied, codes.Internal}
	for _, c := range fatal {
		err := status.Error(c, "boom")
		fe := classify(err)
		if fe.Transient {
			t.Errorf("classify(%v): Transient = true, want false", c)
		}
	}
}

func TestClassifyNonStatusError(t *testing.T) {
	fe := classify(errors.New("plain error"))
	if fe.Transient {
		t.Error("classify() of a non-status error: Transient = true, want false")
	}
	if !errors.Is(fe, fe.Err) {
		t.Error("FetchError.Unwrap() should expose the original error")
	}
}

func TestTransportCredentialsInsecureByDefault(t *testing.T) {
	creds, err := transportCredentials("")
	if err != nil {
		t.Fatalf("transportCredentials(\"\") error: %v", err)
	}
	if creds.Info().SecurityProtocol != "insecure" {
		t.Errorf("SecurityProtocol = %q, want %q", creds.Info().SecurityProtocol, "insecure")
	}
}

func TestTransportCredentialsMissingCAFile(t *testing.T) {
	if _, err := transportCredentials("/nonexistent/ca.pem"); err == nil {
		t.Error("transportCredentials() with missing CA file: want error, got nil")
	}
}

func TestSleepOrCancelReturnsTrueOnTimer(t *testing.T) {
	if !sleepOrCancel(context.Background(), time.Millisecond) {
		t.Error("sleepOrCancel() = false, want true when context is not cancelled")
	}
}

func TestSleepOrCancelReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepOrCancel(ctx, time.Second) {
		t.Error("sleepOrCancel() = true, want false when context is already cancelled")
	}
}
