package actor

import "context"

// Request sends the input built by mk and waits for the reducer or runtime to
// complete its reply channel. The reply channel is buffered so a late reply
// after ctx expired never blocks the loop.
func Request[S any, R any](ctx context.Context, a *Actor[S], mk func(reply chan R) Input) (R, error) {
	var zero R
	reply := make(chan R, 1)
	if err := a.Send(ctx, mk(reply)); err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-a.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Call is Request for commands whose reply is an error.
func Call[S any](ctx context.Context, a *Actor[S], mk func(reply chan error) Input) error {
	err, callErr := Request(ctx, a, mk)
	if callErr != nil {
		return callErr
	}
	return err
}
