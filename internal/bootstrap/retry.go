// SPDX-License-Identifier: MPL-2.0

package bootstrap

import (
	"context"
)

// retryWithRecovery runs op up to attempts times. Before every attempt
// after the first, recoverFn runs with the previous failure; a non-nil
// result from recoverFn stops the loop and is returned. Cancellation between
// steps returns the context error.
func retryWithRecovery(
	ctx context.Context,
	attempts int,
	op func(ctx context.Context, attempt int) error,
	recoverFn func(ctx context.Context, failure error) error,
) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if recErr := recoverFn(ctx, err); recErr != nil {
				return recErr
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
