package monitor_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/authretry"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/ogulcanaydogan/flow-guardian/pkg/monitor"
	"github.com/ogulcanaydogan/flow-guardian/pkg/state"
	"github.com/ogulcanaydogan/flow-guardian/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name      string
	results   []*model.QueryResult
	queryErr  error
	refreshOK bool
	calls     int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) QueryFlow(context.Context, model.MonitoredAccount) (*model.QueryResult, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	res := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return res, nil
}

func (s *stubProvider) RefreshAuth(context.Context, model.MonitoredAccount) (*model.Credentials, error) {
	if !s.refreshOK {
		return nil, errors.New("refresh rejected")
	}
	return &model.Credentials{TokenOnline: "new"}, nil
}

type memoryAccounts struct {
	mu        sync.Mutex
	creds     map[int64]model.Credentials
	authValid map[int64]bool
	snapshots []model.FlowSnapshot
	failSnap  bool
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{creds: map[int64]model.Credentials{}, authValid: map[int64]bool{}}
}

func (m *memoryAccounts) SaveCredentials(_ context.Context, id int64, c model.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[id] = c
	return nil
}

func (m *memoryAccounts) SetAuthValid(_ context.Context, id int64, valid bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authValid[id] = valid
	return nil
}

func (m *memoryAccounts) RecordSnapshot(_ context.Context, snap *model.FlowSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSnap {
		return errors.New("disk full")
	}
	m.snapshots = append(m.snapshots, *snap)
	return nil
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newPipeline(t *testing.T, p upstream.Provider, accounts *memoryAccounts, n *recordingNotifier) *monitor.Pipeline {
	t.Helper()
	reg := upstream.NewRegistry()
	require.NoError(t, reg.Register(p))
	coord := authretry.NewCoordinator(accounts, nil, time.Second, testLogger())
	return monitor.NewPipeline(reg, coord, accounts, newEvaluator(state.NewMemory(), n), testLogger())
}

func lowPayload(t *testing.T) json.RawMessage {
	return payload(t, map[string]any{
		"sum":           "10240",
		"allUserFlow":   "9740",
		"canUseFlowAll": "500",
		"flowSumList": []any{
			map[string]any{"flowtype": "1", "xusedvalue": "9740", "xcanusevalue": "500"},
		},
	})
}

func TestPipeline_ProcessRecordsAndEvaluates(t *testing.T) {
	p := &stubProvider{name: "unicom", results: []*model.QueryResult{
		{Success: true, Data: lowPayload(t), IsCached: true, QueryTime: 0.42},
	}}
	accounts := newMemoryAccounts()
	n := &recordingNotifier{}
	pipe := newPipeline(t, p, accounts, n)

	settings := lowOnly(model.CategoryGeneral, model.LowBalanceRule{Enabled: true, Mode: model.ModePercent, Value: 10})
	res, err := pipe.Process(context.Background(), account, settings)
	require.NoError(t, err)

	assert.Equal(t, authretry.Success, res.Outcome)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, account.ID, res.Snapshot.AccountID)
	assert.True(t, res.Snapshot.IsCached)
	assert.Equal(t, 0.42, res.Snapshot.QueryTime)
	require.Len(t, accounts.snapshots, 1)
	assert.Equal(t, float64(500), accounts.snapshots[0].Remaining.MB)

	require.Len(t, res.Report.LowBalance, 1)
	assert.Len(t, n.sent(), 1)
}

func TestPipeline_UsesFallbackProvider(t *testing.T) {
	p := &stubProvider{name: "bridge", results: []*model.QueryResult{{Success: true, Data: lowPayload(t)}}}
	pipe := newPipeline(t, p, newMemoryAccounts(), &recordingNotifier{})

	acct := account
	acct.Provider = ""
	_, err := pipe.Process(context.Background(), acct, model.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestPipeline_UnknownProvider(t *testing.T) {
	p := &stubProvider{name: "bridge", results: []*model.QueryResult{{Success: true}}}
	pipe := newPipeline(t, p, newMemoryAccounts(), &recordingNotifier{})

	acct := account
	acct.Provider = "telecom"
	_, err := pipe.Process(context.Background(), acct, model.DefaultSettings())
	assert.ErrorContains(t, err, "resolve provider")
}

func TestPipeline_RetriedAfterRefresh(t *testing.T) {
	p := &stubProvider{name: "unicom", refreshOK: true, results: []*model.QueryResult{
		{Success: false, Code: "999999", Message: "token expired"},
		{Success: true, Data: lowPayload(t)},
	}}
	accounts := newMemoryAccounts()
	pipe := newPipeline(t, p, accounts, &recordingNotifier{})

	res, err := pipe.Process(context.Background(), account, model.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, authretry.RetriedSuccess, res.Outcome)
	assert.Equal(t, "new", accounts.creds[account.ID].TokenOnline)
	assert.True(t, accounts.authValid[account.ID])
	assert.Len(t, accounts.snapshots, 1)
}

func TestPipeline_NeedsReauth(t *testing.T) {
	p := &stubProvider{name: "unicom", results: []*model.QueryResult{
		{Success: false, AuthError: true, Message: "login required"},
	}}
	accounts := newMemoryAccounts()
	n := &recordingNotifier{}
	pipe := newPipeline(t, p, accounts, n)

	res, err := pipe.Process(context.Background(), account, model.DefaultSettings())
	require.Error(t, err)
	assert.Equal(t, authretry.NeedsReauth, res.Outcome)
	assert.False(t, accounts.authValid[account.ID])
	assert.Empty(t, accounts.snapshots)
	assert.Empty(t, n.sent())
}

func TestPipeline_TransientFailure(t *testing.T) {
	p := &stubProvider{name: "unicom", queryErr: errors.New("connection reset")}
	pipe := newPipeline(t, p, newMemoryAccounts(), &recordingNotifier{})

	res, err := pipe.Process(context.Background(), account, model.DefaultSettings())
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, authretry.TransientFailure, res.Outcome)
}

func TestPipeline_SnapshotFailureIsNotFatal(t *testing.T) {
	p := &stubProvider{name: "unicom", results: []*model.QueryResult{{Success: true, Data: lowPayload(t)}}}
	accounts := newMemoryAccounts()
	accounts.failSnap = true
	n := &recordingNotifier{}
	pipe := newPipeline(t, p, accounts, n)

	settings := lowOnly(model.CategoryGeneral, model.LowBalanceRule{Enabled: true, Mode: model.ModePercent, Value: 10})
	_, err := pipe.Process(context.Background(), account, settings)
	require.NoError(t, err)
	assert.Len(t, n.sent(), 1)
}
