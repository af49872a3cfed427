// Package httputil provides retry and error-classification helpers shared
// by the zKillboard transport.
//
// # Retry
//
// [Retry] re-runs an operation while it fails with a [RetryableError]:
//
//	err := httputil.Retry(ctx, 5, httputil.Constant(time.Second), nil, func() error {
//	    _, err := dial()
//	    if httputil.IsConnectError(err) {
//	        return httputil.Retryable(err)
//	    }
//	    return err
//	})
//
// Delays come from a [Backoff]: [Constant] for fixed waits, [Linear] for
// waits that grow by a fixed step. Sleeping goes through a [Sleeper] so tests
// can record delays instead of waiting.
//
// # Network errors
//
// [IsConnectError] and [IsReadError] split transport failures into those
// raised before a connection exists and those raised while waiting for or
// reading a response. The two classes are retried under different budgets.
package httputil
