package authretry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/authretry"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	results      []*model.QueryResult
	queryErr     error
	refreshCreds *model.Credentials
	refreshErr   error

	mu       sync.Mutex
	queries  int
	refreshs int
	seen     []model.Credentials
}

func (p *scriptedProvider) Name() string { return "stub" }

func (p *scriptedProvider) QueryFlow(_ context.Context, a model.MonitoredAccount) (*model.QueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, a.Credentials)
	i := p.queries
	p.queries++
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.results[min(i, len(p.results)-1)], nil
}

func (p *scriptedProvider) RefreshAuth(context.Context, model.MonitoredAccount) (*model.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshs++
	return p.refreshCreds, p.refreshErr
}

type accountStoreStub struct {
	saved   []model.Credentials
	valid   []bool
	saveErr error
}

func (s *accountStoreStub) SaveCredentials(_ context.Context, _ int64, c model.Credentials) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, c)
	return nil
}

func (s *accountStoreStub) SetAuthValid(_ context.Context, _ int64, valid bool) error {
	s.valid = append(s.valid, valid)
	return nil
}

func newCoordinator(store authretry.AccountStore, phraseFallback bool) *authretry.Coordinator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return authretry.NewCoordinator(store, authretry.NewClassifier(phraseFallback), time.Second, logger)
}

var account = model.MonitoredAccount{ID: 5, UserID: 1, AuthValid: true, Credentials: model.Credentials{TokenOnline: "old"}}

func TestQuery_Success(t *testing.T) {
	p := &scriptedProvider{results: []*model.QueryResult{{Success: true}}}
	out := newCoordinator(&accountStoreStub{}, true).Query(context.Background(), p, account)

	assert.Equal(t, authretry.Success, out.Kind)
	assert.True(t, out.OK())
	assert.Equal(t, 1, p.queries)
	assert.Equal(t, 0, p.refreshs)
}

func TestQuery_AuthFailureRefreshAndRetrySucceeds(t *testing.T) {
	p := &scriptedProvider{
		results: []*model.QueryResult{
			{Success: false, Code: "999999", Message: "token expired"},
			{Success: true, Data: []byte(`{"sum":"1"}`)},
		},
		refreshCreds: &model.Credentials{TokenOnline: "new"},
	}
	store := &accountStoreStub{}
	out := newCoordinator(store, true).Query(context.Background(), p, account)

	assert.Equal(t, authretry.RetriedSuccess, out.Kind)
	assert.True(t, out.OK())
	assert.False(t, out.NeedReauth())
	assert.Equal(t, authretry.ReasonCode, out.Reason)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "new", out.Account.Credentials.TokenOnline)

	assert.Equal(t, 2, p.queries)
	assert.Equal(t, 1, p.refreshs)
	assert.Equal(t, []model.Credentials{{TokenOnline: "old"}, {TokenOnline: "new"}}, p.seen)
	assert.Equal(t, []model.Credentials{{TokenOnline: "new"}}, store.saved)
	assert.Equal(t, []bool{true}, store.valid)
}

func TestQuery_AuthFailureRefreshFails(t *testing.T) {
	p := &scriptedProvider{
		results:    []*model.QueryResult{{Success: false, AuthError: true}},
		refreshErr: errors.New("password changed"),
	}
	store := &accountStoreStub{}
	out := newCoordinator(store, true).Query(context.Background(), p, account)

	assert.Equal(t, authretry.NeedsReauth, out.Kind)
	assert.True(t, out.NeedReauth())
	assert.False(t, out.OK())
	assert.ErrorContains(t, out.Err, "password changed")
	assert.Equal(t, 1, p.queries, "no retry after failed refresh")
	assert.Equal(t, 1, p.refreshs)
	assert.Equal(t, []bool{false}, store.valid)
	assert.Empty(t, store.saved)
}

func TestQuery_RetryFailureIsFinal(t *testing.T) {
	p := &scriptedProvider{
		results:      []*model.QueryResult{{Success: false, AuthError: true}},
		refreshCreds: &model.Credentials{TokenOnline: "new"},
	}
	out := newCoordinator(&accountStoreStub{}, true).Query(context.Background(), p, account)

	assert.Equal(t, authretry.TransientFailure, out.Kind)
	assert.False(t, out.NeedReauth())
	assert.Equal(t, 2, p.queries)
	assert.Equal(t, 1, p.refreshs)
}

func TestQuery_NonAuthFailureNotRetried(t *testing.T) {
	p := &scriptedProvider{results: []*model.QueryResult{{Success: false, Code: "500", Message: "busy"}}}
	out := newCoordinator(&accountStoreStub{}, true).Query(context.Background(), p, account)

	assert.Equal(t, authretry.TransientFailure, out.Kind)
	assert.ErrorContains(t, out.Err, "busy")
	assert.Equal(t, 1, p.queries)
	assert.Equal(t, 0, p.refreshs)
}

func TestQuery_TransportErrorNotRetried(t *testing.T) {
	p := &scriptedProvider{queryErr: errors.New("connection reset")}
	out := newCoordinator(&accountStoreStub{}, true).Query(context.Background(), p, account)

	assert.Equal(t, authretry.TransientFailure, out.Kind)
	assert.ErrorContains(t, out.Err, "connection reset")
	assert.Equal(t, 0, p.refreshs)
}

func TestQuery_SaveCredentialsFailure(t *testing.T) {
	p := &scriptedProvider{
		results:      []*model.QueryResult{{Success: false, Code: "TOKEN_EXPIRED"}},
		refreshCreds: &model.Credentials{TokenOnline: "new"},
	}
	out := newCoordinator(&accountStoreStub{saveErr: errors.New("disk full")}, true).Query(context.Background(), p, account)

	assert.Equal(t, authretry.TransientFailure, out.Kind)
	assert.ErrorContains(t, out.Err, "disk full")
	assert.Equal(t, 1, p.queries)
}

func TestQuery_PhraseFallbackSwitch(t *testing.T) {
	res := &model.QueryResult{Success: false, Code: "X1", Message: "您的账号已在别处登录"}

	p := &scriptedProvider{results: []*model.QueryResult{res}, refreshErr: errors.New("nope")}
	out := newCoordinator(&accountStoreStub{}, true).Query(context.Background(), p, account)
	assert.Equal(t, authretry.NeedsReauth, out.Kind)
	assert.Equal(t, authretry.ReasonPhrase, out.Reason)

	p = &scriptedProvider{results: []*model.QueryResult{res}, refreshErr: errors.New("nope")}
	out = newCoordinator(&accountStoreStub{}, false).Query(context.Background(), p, account)
	assert.Equal(t, authretry.TransientFailure, out.Kind)
	assert.Equal(t, 0, p.refreshs)
}

func TestClassifier(t *testing.T) {
	c := authretry.NewClassifier(true)
	assert.Equal(t, authretry.ReasonNone, c.Classify(nil))
	assert.Equal(t, authretry.ReasonNone, c.Classify(&model.QueryResult{Success: true, AuthError: true}))
	assert.Equal(t, authretry.ReasonFlag, c.Classify(&model.QueryResult{AuthError: true, Code: "999999"}))
	assert.Equal(t, authretry.ReasonCode, c.Classify(&model.QueryResult{Code: "token_expired"}))
	assert.Equal(t, authretry.ReasonCode, c.Classify(&model.QueryResult{Code: " 1 "}))
	assert.Equal(t, authretry.ReasonPhrase, c.Classify(&model.QueryResult{Message: "Token过期，请重新登录"}))
	assert.Equal(t, authretry.ReasonNone, c.Classify(&model.QueryResult{Code: "2", Message: "系统繁忙"}))
	assert.Equal(t, "phrase", authretry.ReasonPhrase.String())
	assert.Equal(t, "needs_reauth", authretry.NeedsReauth.String())
}

func TestQuery_AppliesTimeout(t *testing.T) {
	p := &slowProvider{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := authretry.NewCoordinator(&accountStoreStub{}, nil, 20*time.Millisecond, logger)

	out := c.Query(context.Background(), p, account)
	require.Error(t, out.Err)
	assert.Equal(t, authretry.TransientFailure, out.Kind)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) QueryFlow(ctx context.Context, _ model.MonitoredAccount) (*model.QueryResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) RefreshAuth(context.Context, model.MonitoredAccount) (*model.Credentials, error) {
	return nil, errors.New("unused")
}
