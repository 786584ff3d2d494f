package gateway

import (
	"errors"
	"math/rand"
	"time"

	"github.com/browsergate/browsergate/internal/driver"
)

// retryAttempts is how many times a transient driver failure is retried.
const retryAttempts = 2

// retryBaseDelay is the base backoff between retries; jitter avoids two
// agents re-colliding in lockstep.
const retryBaseDelay = 150 * time.Millisecond

// retryTransient runs fn, retrying on window-loss class errors. Element
// errors are never retried: a missing element will still be missing.
func retryTransient(fn func() error) error {
	var err error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt < retryAttempts {
			time.Sleep(retryBaseDelay + time.Duration(rand.Int63n(int64(retryBaseDelay))))
		}
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrElementNotFound) || errors.Is(err, driver.ErrElementNotInteractable) {
		return false
	}
	return errors.Is(err, driver.ErrTargetGone)
}
