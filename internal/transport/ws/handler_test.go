package ws

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet_server/internal/domain"
	"fleet_server/internal/usecase"
)

type syncCalls struct {
	intros      []domain.Introduction
	reports     []domain.MetricsReport
	profits     []float64
	profitConns []string
	disconnects []string
}

type fakeSync struct {
	mu    sync.Mutex
	calls syncCalls
}

func (f *fakeSync) Introduce(_ context.Context, connID string, in domain.Introduction) (domain.ClientRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.intros = append(f.calls.intros, in)
	return domain.ClientRecord{Identity: in.Name}, nil
}

func (f *fakeSync) ReportMetrics(_ context.Context, connID string, report domain.MetricsReport) (domain.ClientRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.reports = append(f.calls.reports, report)
	return domain.ClientRecord{Identity: report.Name}, nil
}

func (f *fakeSync) AddProfit(_ context.Context, connID string, delta float64) (domain.ClientRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.profits = append(f.calls.profits, delta)
	f.calls.profitConns = append(f.calls.profitConns, connID)
	return domain.ClientRecord{}, nil
}

func (f *fakeSync) HandleDisconnect(_ context.Context, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.disconnects = append(f.calls.disconnects, connID)
	return nil
}

func (f *fakeSync) Snapshot(context.Context) ([]usecase.ClientProjection, error) {
	return []usecase.ClientProjection{{Name: "bot1", TargetProfit: 500, ServerStatus: "Online"}}, nil
}

func (f *fakeSync) state() syncCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return syncCalls{
		intros:      append([]domain.Introduction(nil), f.calls.intros...),
		reports:     append([]domain.MetricsReport(nil), f.calls.reports...),
		profits:     append([]float64(nil), f.calls.profits...),
		profitConns: append([]string(nil), f.calls.profitConns...),
		disconnects: append([]string(nil), f.calls.disconnects...),
	}
}

type fakeCommands struct {
	mu       sync.Mutex
	targets  map[string]float64
	commands []string
}

func (f *fakeCommands) SetTarget(_ context.Context, name string, target float64) (domain.ClientRecord, error) {
	if err := domain.ValidateTarget(target); err != nil {
		return domain.ClientRecord{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.targets == nil {
		f.targets = make(map[string]float64)
	}
	f.targets[name] = target
	return domain.ClientRecord{Identity: name, TargetProfit: target}, nil
}

func (f *fakeCommands) ApplyCommand(_ context.Context, command, name string) (domain.ClientRecord, error) {
	if _, err := domain.ParseApprovalCommand(command); err != nil {
		return domain.ClientRecord{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command+":"+name)
	return domain.ClientRecord{Identity: name}, nil
}

type servedConn struct {
	conn *fakeConn
	done chan struct{}
}

func serve(t *testing.T, h *Handler, role Role) servedConn {
	t.Helper()
	sc := servedConn{conn: newFakeConn(), done: make(chan struct{})}
	go func() {
		h.Serve(sc.conn, role, "127.0.0.1")
		close(sc.done)
	}()
	t.Cleanup(func() { sc.close(t) })
	return sc
}

// drain waits until every queued inbound frame has been read.
func (sc servedConn) drain(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return len(sc.conn.inbound) == 0 }, time.Second, 5*time.Millisecond)
}

func (sc servedConn) close(t *testing.T) {
	t.Helper()
	_ = sc.conn.Close()
	select {
	case <-sc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func newTestHandler(t *testing.T) (*Handler, *Hub, *fakeSync, *fakeCommands) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	syncSvc := &fakeSync{}
	commands := &fakeCommands{}
	h, err := NewHandler(hub, syncSvc, commands, Options{OutboundQueue: 16}, zerolog.Nop())
	require.NoError(t, err)
	return h, hub, syncSvc, commands
}

func TestHandlerBotLifecycle(t *testing.T) {
	h, hub, syncSvc, _ := newTestHandler(t)
	bot := serve(t, h, RoleBot)

	bot.conn.send(t, `{"event":"user_info_update","data":{"name":"bot1","user_ip":"10.0.0.1","server_status":"Running"}}`)
	bot.conn.send(t, `{"event":"cumulative_profit","data":{"cumulativeProfit":250}}`)
	bot.conn.send(t, `{"event":"cumulative_profit","data":{"cumulativeProfit":"250"}}`)
	bot.conn.send(t, `{"event":"update_data","data":{"name":"bot1","total_balance":1000.5,"unrealized_pnl":"n/a","target_profit":99}}`)

	require.Eventually(t, func() bool { return len(syncSvc.state().reports) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.Stats().Bots)

	bot.close(t)

	st := syncSvc.state()
	require.Len(t, st.intros, 1)
	assert.Equal(t, domain.Introduction{Name: "bot1", Address: "10.0.0.1", ServerStatus: "Running"}, st.intros[0])
	assert.Equal(t, []float64{250}, st.profits)

	report := st.reports[0]
	require.NotNil(t, report.Metrics.TotalBalance)
	assert.Equal(t, 1000.5, *report.Metrics.TotalBalance)
	assert.Nil(t, report.Metrics.UnrealizedPnl)
	assert.Nil(t, report.Metrics.CurrentProfitRate)
	assert.JSONEq(t, `{"name":"bot1","total_balance":1000.5,"unrealized_pnl":"n/a","target_profit":99}`, string(report.RawPayload))

	require.Len(t, st.disconnects, 1)
	assert.Equal(t, st.profitConns[0], st.disconnects[0])
	assert.Zero(t, hub.Stats().Bots)
}

func TestHandlerRejectsEventsForWrongRole(t *testing.T) {
	h, _, syncSvc, commands := newTestHandler(t)
	dash := serve(t, h, RoleDashboard)
	bot := serve(t, h, RoleBot)

	dash.conn.send(t, `{"event":"cumulative_profit","data":{"cumulativeProfit":250}}`)
	bot.conn.send(t, `{"event":"send_command","data":{"command":"approve","name":"bot1"},"ack":1}`)
	dash.conn.send(t, `{"event":"request_initial_data"}`)

	frame := dash.conn.next(t)
	assert.Equal(t, usecase.EventInitialData, frame.Event)
	assert.JSONEq(t, `[{"name":"bot1","user_ip":"","total_balance":0,"current_profit_rate":0,"unrealized_pnl":0,"current_total_asset":0,"cumulative_profit":0,"target_profit":500,"server_status":"Online","isApproved":false,"goalAchieved":false,"timestamp":""}]`, string(frame.Data))

	bot.drain(t)
	dash.close(t)
	bot.close(t)

	assert.Empty(t, syncSvc.state().profits)
	commands.mu.Lock()
	assert.Empty(t, commands.commands)
	commands.mu.Unlock()
	assert.Empty(t, bot.conn.written)
}

func TestHandlerDashboardCommandsAreAcked(t *testing.T) {
	h, _, _, commands := newTestHandler(t)
	dash := serve(t, h, RoleDashboard)

	dash.conn.send(t, `{"event":"set_target_profit","data":{"name":"bot1","targetProfit":1000},"ack":7}`)
	frame := dash.conn.next(t)
	assert.Equal(t, EventAck, frame.Event)
	require.NotNil(t, frame.Ack)
	assert.EqualValues(t, 7, *frame.Ack)
	assert.JSONEq(t, `{"status":"success"}`, string(frame.Data))

	dash.conn.send(t, `{"event":"set_target_profit","data":{"name":"bot1","targetProfit":"abc"},"ack":8}`)
	frame = dash.conn.next(t)
	assert.EqualValues(t, 8, *frame.Ack)
	assert.JSONEq(t, `{"status":"error","message":"invalid targetProfit value"}`, string(frame.Data))

	dash.conn.send(t, `{"event":"send_command","data":{"command":"approve","name":"bot1"},"ack":9}`)
	frame = dash.conn.next(t)
	assert.EqualValues(t, 9, *frame.Ack)
	assert.JSONEq(t, `{"status":"success"}`, string(frame.Data))

	dash.conn.send(t, `{"event":"send_command","data":{"command":"reboot","name":"bot1"},"ack":10}`)
	frame = dash.conn.next(t)
	assert.EqualValues(t, 10, *frame.Ack)
	assert.JSONEq(t, `{"status":"error","message":"unknown command"}`, string(frame.Data))

	dash.close(t)

	commands.mu.Lock()
	defer commands.mu.Unlock()
	assert.Equal(t, map[string]float64{"bot1": 1000}, commands.targets)
	assert.Equal(t, []string{"approve:bot1"}, commands.commands)
}

func TestHandlerIgnoresMalformedFrames(t *testing.T) {
	h, _, syncSvc, _ := newTestHandler(t)
	bot := serve(t, h, RoleBot)

	bot.conn.send(t, `not json`)
	bot.conn.send(t, `{"event":"no_such_event","data":{}}`)
	bot.conn.send(t, `{"event":"keep_alive","data":{"name":"bot1"}}`)
	bot.conn.send(t, `{"event":"user_info_update","data":{"name":"bot1"}}`)

	require.Eventually(t, func() bool { return len(syncSvc.state().intros) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHandlerInboundRateLimit(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	syncSvc := &fakeSync{}
	h, err := NewHandler(hub, syncSvc, &fakeCommands{}, Options{InboundRate: 0.001, InboundBurst: 2}, zerolog.Nop())
	require.NoError(t, err)
	bot := serve(t, h, RoleBot)

	for i := 0; i < 5; i++ {
		bot.conn.send(t, `{"event":"user_info_update","data":{"name":"bot1"}}`)
	}
	bot.drain(t)
	bot.close(t)

	assert.Len(t, syncSvc.state().intros, 2)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHandlerLogsInvalidKeepAlive(t *testing.T) {
	logs := &lockedBuffer{}
	hub := NewHub(zerolog.Nop())
	syncSvc := &fakeSync{}
	h, err := NewHandler(hub, syncSvc, &fakeCommands{}, Options{}, zerolog.New(logs).Level(zerolog.DebugLevel))
	require.NoError(t, err)
	bot := serve(t, h, RoleBot)

	bot.conn.send(t, `{"event":"keep_alive","data":"bot1"}`)
	bot.conn.send(t, `{"event":"keep_alive"}`)
	bot.conn.send(t, `{"event":"user_info_update","data":{"name":"bot1"}}`)
	require.Eventually(t, func() bool { return len(syncSvc.state().intros) == 1 }, time.Second, 5*time.Millisecond)
	bot.close(t)

	assert.Equal(t, 1, strings.Count(logs.String(), "invalid keep_alive payload"))
}
