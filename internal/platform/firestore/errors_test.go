package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.DeadlineExceeded, unavailable: true},
		{code: codes.PermissionDenied},
	}

	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("carts.get", status.Error(tc.code, "boom"))
			var repoErr *Error
			if !errors.As(err, &repoErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, repoErr)
			}
		})
	}
}

func TestWrapErrorPassesThroughContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "client went away")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected grpc canceled to map to context.Canceled, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestWrapErrorKeepsFirstOperation(t *testing.T) {
	inner := WrapError("orders.create", status.Error(codes.AlreadyExists, "exists"))
	outer := WrapError("transaction", fmt.Errorf("wrapped: %w", inner))
	if !IsConflict(outer) {
		t.Fatalf("expected conflict to survive wrapping")
	}
	if got := outer.Error(); got != "orders.create: rpc error: code = AlreadyExists desc = exists" {
		t.Fatalf("unexpected message %q", got)
	}
	if IsNotFound(outer) {
		t.Fatalf("did not expect not found")
	}
}
