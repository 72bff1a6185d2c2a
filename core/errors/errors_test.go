package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	coreerr "github.com/arcanefly/workforce/core/errors"
)

func TestError_MessageFallsBackToCauseThenKind(t *testing.T) {
	withCause := coreerr.New(coreerr.Upstream, "router", "", true, fmt.Errorf("dial tcp: refused"))
	require.Contains(t, withCause.Error(), "dial tcp: refused")

	bare := coreerr.New(coreerr.Timeout, "", "", false, nil)
	require.Equal(t, "timeout: timeout", bare.Error())
}

func TestError_UnwrapPreservesChain(t *testing.T) {
	cause := errors.New("boom")
	e := coreerr.New(coreerr.Upstream, "anthropic", "generate failed", true, cause)
	require.ErrorIs(t, e, cause)
}

func TestAs_ExtractsTypedError(t *testing.T) {
	var err error = coreerr.New(coreerr.RateLimited, "ratelimit", "too many requests", true, nil)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	require.Equal(t, coreerr.RateLimited, ce.Kind())
	require.True(t, ce.Retryable())

	_, ok = coreerr.As(errors.New("plain"))
	require.False(t, ok)
}

func TestIs_MatchesKind(t *testing.T) {
	err := coreerr.New(coreerr.Deadlock, "workflow", "no runnable tasks remain", false, nil)
	require.True(t, coreerr.Is(err, coreerr.Deadlock))
	require.False(t, coreerr.Is(err, coreerr.Timeout))
}

func TestNew_PanicsWithoutKind(t *testing.T) {
	require.Panics(t, func() {
		coreerr.New("", "router", "oops", false, nil)
	})
}
