// SPDX-License-Identifier: MPL-2.0

package bootstrap

import (
	"context"
	"errors"
	"testing"
)

func TestRetryWithRecovery(t *testing.T) {
	t.Parallel()

	errFail := errors.New("fail")

	tests := []struct {
		name         string
		failures     int
		wantErr      bool
		wantOps      int
		wantRecovers int
	}{
		{name: "first try", failures: 0, wantOps: 1, wantRecovers: 0},
		{name: "fails once", failures: 1, wantOps: 2, wantRecovers: 1},
		{name: "always fails", failures: 99, wantErr: true, wantOps: 2, wantRecovers: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ops, recovers int
			err := retryWithRecovery(context.Background(), 2,
				func(context.Context, int) error {
					ops++
					if ops <= tt.failures {
						return errFail
					}
					return nil
				},
				func(_ context.Context, failure error) error {
					recovers++
					if !errors.Is(failure, errFail) {
						t.Errorf("recover got %v", failure)
					}
					return nil
				},
			)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ops != tt.wantOps || recovers != tt.wantRecovers {
				t.Errorf("ops=%d recovers=%d, want %d/%d", ops, recovers, tt.wantOps, tt.wantRecovers)
			}
		})
	}
}

func TestRetryWithRecovery_RecoverAborts(t *testing.T) {
	t.Parallel()

	ops := 0
	err := retryWithRecovery(context.Background(), 2,
		func(context.Context, int) error { ops++; return errors.New("fail") },
		func(context.Context, error) error { return context.Canceled },
	)
	if !errors.Is(err, context.Canceled) || ops != 1 {
		t.Errorf("err=%v ops=%d, want Canceled after 1 op", err, ops)
	}
}

func TestRetryWithRecovery_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ops := 0
	err := retryWithRecovery(ctx, 2,
		func(context.Context, int) error { ops++; cancel(); return errors.New("fail") },
		func(context.Context, error) error { t.Error("recover must not run after cancel"); return nil },
	)
	if !errors.Is(err, context.Canceled) || ops != 1 {
		t.Errorf("err=%v ops=%d", err, ops)
	}
}
