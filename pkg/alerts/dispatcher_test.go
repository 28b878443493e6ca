package alerts_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/alerts"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name  string
	err   error
	panic bool
	block bool
	calls atomic.Int32
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, _ model.ChannelConfig, _ alerts.Message) error {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testMessage = alerts.Message{Kind: alerts.KindTest, Title: "t", Body: "b", UserID: 1, Timestamp: time.Now()}

func TestDispatch_OneFailureIsolated(t *testing.T) {
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b", err: errors.New("smtp down")}
	c := &fakeChannel{name: "c"}
	d := alerts.NewDispatcher(time.Second, testLogger(), a, b, c)

	results := d.Dispatch(context.Background(), map[string]model.ChannelConfig{
		"a": {"enabled": true},
		"b": {"enabled": true},
		"c": {"enabled": true},
	}, testMessage)

	require.Len(t, results, 3)
	assert.True(t, results["a"].Success)
	assert.False(t, results["b"].Success)
	assert.Equal(t, "smtp down", results["b"].Detail)
	assert.True(t, results["c"].Success)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestDispatch_SkipsDisabledAndReportsUnknown(t *testing.T) {
	a := &fakeChannel{name: "a"}
	d := alerts.NewDispatcher(time.Second, testLogger(), a)

	results := d.Dispatch(context.Background(), map[string]model.ChannelConfig{
		"a":       {"enabled": false},
		"pigeon":  {"enabled": true},
		"missing": nil,
	}, testMessage)

	require.Len(t, results, 1)
	assert.False(t, results["pigeon"].Success)
	assert.Contains(t, results["pigeon"].Detail, "unsupported")
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestDispatch_NoChannels(t *testing.T) {
	d := alerts.NewDispatcher(time.Second, testLogger())
	results := d.Dispatch(context.Background(), nil, testMessage)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSend_RecoversPanic(t *testing.T) {
	d := alerts.NewDispatcher(time.Second, testLogger(), &fakeChannel{name: "p", panic: true}, &fakeChannel{name: "ok"})

	res := d.Send(context.Background(), "p", model.ChannelConfig{}, testMessage)
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "boom")

	results := d.Dispatch(context.Background(), map[string]model.ChannelConfig{
		"p":  {"enabled": true},
		"ok": {"enabled": true},
	}, testMessage)
	assert.False(t, results["p"].Success)
	assert.True(t, results["ok"].Success)
}

func TestSend_Timeout(t *testing.T) {
	d := alerts.NewDispatcher(20*time.Millisecond, testLogger(), &fakeChannel{name: "slow", block: true})

	start := time.Now()
	res := d.Send(context.Background(), "slow", model.ChannelConfig{}, testMessage)
	assert.False(t, res.Success)
	assert.Contains(t, res.Detail, "deadline")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatcher_Channels(t *testing.T) {
	d := alerts.NewDispatcher(0, testLogger(), alerts.StandardChannels(alerts.Options{})...)
	assert.Equal(t, []string{"bark", "dingtalk", "email", "slack", "telegram", "webhook", "wechat", "wxpusher"}, d.Channels())

	d.Register(alerts.NewAMQPChannel(nil))
	assert.Contains(t, d.Channels(), "amqp")
}
