package adapter

import (
	"context"
	"time"

	"github.com/hazyhaar/yadowatch/fetch"
)

// Retry runs fn up to attempts times, retrying only transient failures with
// 500ms/1s/1.5s… pauses. Structural errors return immediately: retrying a
// changed page layout cannot help.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !fetch.IsTransient(err) || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(500*(i+1)) * time.Millisecond):
		}
	}
	return err
}
