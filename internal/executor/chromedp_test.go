package executor

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/customeros/customeros-sub005/internal/automation"
)

func TestExecuteUnregisteredTypeIsPermanent(t *testing.T) {
	t.Parallel()

	e := NewChromedp(Config{}, zap.NewNop())
	outcome, err := e.Execute(context.Background(),
		automation.Run{ID: "r1", Type: automation.RunType("EXOTIC")},
		automation.BrowserSession{},
		automation.Proxy{},
	)
	require.NoError(t, err)
	require.Len(t, outcome.Errors, 1)
	require.Equal(t, automation.ErrorTypePermanent, outcome.Errors[0].ErrorType)
	require.Equal(t, "UNSUPPORTED_RUN_TYPE", outcome.Errors[0].ErrorCode)
}

func TestRegisterDefaultsCoversKnownTypes(t *testing.T) {
	t.Parallel()

	e := NewChromedp(Config{}, zap.NewNop())
	RegisterDefaults(e)

	for _, runType := range []automation.RunType{
		automation.RunTypeFindConnections,
		automation.RunTypeFindCompanyPeople,
		automation.RunTypeSendConnectionRequest,
		automation.RunTypeSendMessage,
		automation.RunTypeDownloadConnections,
	} {
		_, ok := e.script(runType)
		require.True(t, ok, "missing script for %s", runType)
	}
}

func TestRegisterReplacesBinding(t *testing.T) {
	t.Parallel()

	e := NewChromedp(Config{}, zap.NewNop())
	first := func(context.Context, automation.Run) (automation.Outcome, error) {
		return automation.Outcome{}, nil
	}
	replacement := func(context.Context, automation.Run) (automation.Outcome, error) {
		return automation.Outcome{PostProcess: true}, nil
	}
	e.Register(automation.RunTypeSendMessage, first)
	e.Register(automation.RunTypeSendMessage, replacement)

	script, ok := e.script(automation.RunTypeSendMessage)
	require.True(t, ok)
	outcome, err := script(context.Background(), automation.Run{})
	require.NoError(t, err)
	require.True(t, outcome.PostProcess)
}

func TestNavigationTimeoutDefault(t *testing.T) {
	t.Parallel()

	e := NewChromedp(Config{}, zap.NewNop())
	require.Equal(t, 45*time.Second, e.cfg.NavigationTimeout)

	e = NewChromedp(Config{NavigationTimeout: time.Second}, zap.NewNop())
	require.Equal(t, time.Second, e.cfg.NavigationTimeout)
}

func TestNavigationOutcomeClassifiesTimeout(t *testing.T) {
	t.Parallel()

	outcome := navigationOutcome(context.DeadlineExceeded)
	require.Len(t, outcome.Errors, 1)
	require.Equal(t, automation.ErrorTypeTimeout, outcome.Errors[0].ErrorType)

	outcome = navigationOutcome(context.Canceled)
	require.Equal(t, automation.ErrorTypeTransient, outcome.Errors[0].ErrorType)
}

func TestProxyAuthResponseCarriesCredentials(t *testing.T) {
	t.Parallel()

	resp := proxyAuthResponse(automation.Proxy{
		ID:       "p1",
		URL:      "http://proxy.example.com:3128",
		Username: "tenant-user",
		Password: "s3cret",
	})
	require.Equal(t, fetch.AuthChallengeResponseResponseProvideCredentials, resp.Response)
	require.Equal(t, "tenant-user", resp.Username)
	require.Equal(t, "s3cret", resp.Password)
}

func TestCookiePathDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/", cookiePath(automation.Cookie{}))
	require.Equal(t, "/app", cookiePath(automation.Cookie{Path: "/app"}))
}
