package llm

import (
	"errors"
	"fmt"
)

// ProxyUnreachableError means the proxy could not be reached at all: DNS
// failure, connection refused, timeout. Always recoverable — the fallback
// takes over.
type ProxyUnreachableError struct {
	Err error
}

func (e *ProxyUnreachableError) Error() string {
	return fmt.Sprintf("llm proxy unreachable: %v", e.Err)
}

func (e *ProxyUnreachableError) Unwrap() error { return e.Err }

// ProviderError means the proxy answered but the call failed remotely
// (model unavailable, quota, malformed request). Recoverable unless it is
// the terminal error of an exhausted fallback chain.
type ProviderError struct {
	Err         error
	Recoverable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a model-call error the fallback
// chain may still absorb.
func IsRecoverable(err error) bool {
	var unreachable *ProxyUnreachableError
	if errors.As(err, &unreachable) {
		return true
	}
	var provider *ProviderError
	if errors.As(err, &provider) {
		return provider.Recoverable
	}
	return false
}
