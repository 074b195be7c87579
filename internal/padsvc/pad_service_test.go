package padsvc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/padmux/padmux/internal/padsvc"
	"github.com/padmux/padmux/internal/padsvc/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startService(t *testing.T, opts ...padsvc.Option) (*padsvc.Service, *virtual.Backend) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	backend := virtual.NewBackend()
	opts = append([]padsvc.Option{
		padsvc.WithBackend("virtual", backend),
		padsvc.WithReapInterval(10 * time.Millisecond),
		padsvc.WithDeadzone(0.05),
	}, opts...)
	svc := padsvc.New(zaptest.NewLogger(t), time.Now, opts...)
	go func() {
		if err := svc.Start(ctx); err != nil {
			t.Errorf("service failed: %v", err)
		}
	}()
	select {
	case <-svc.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not become ready")
	}
	return svc, backend
}

// collect drains events until n arrived or the deadline passed.
func collect(t *testing.T, svc *padsvc.Service, n int) []padsvc.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var evs []padsvc.Event
	for len(evs) < n && time.Now().Before(deadline) {
		evs = append(evs, svc.Wait(context.Background(), 100*time.Millisecond)...)
	}
	require.Len(t, evs, n)
	return evs
}

func testPad() padsvc.DeviceDescriptor {
	return padsvc.DeviceDescriptor{
		VendorID:  0x054c,
		ProductID: 0x09cc,
		Serial:    "serial-1",
		Path:      "/virtual/0",
		Name:      "virtual pad",
		Axes:      1,
		Buttons:   2,
	}
}

func TestStartWithoutBackend(t *testing.T) {
	svc := padsvc.New(zaptest.NewLogger(t), time.Now)
	err := svc.Start(context.Background())
	require.ErrorIs(t, err, padsvc.ErrNoBackend)
}

// unusableBackend fails every Start attempt and never becomes ready, like a
// backend whose native subsystem is missing on the host.
type unusableBackend struct {
	ready chan struct{}
}

func newUnusableBackend() *unusableBackend {
	return &unusableBackend{ready: make(chan struct{})}
}

func (b *unusableBackend) Start(ctx context.Context, pub padsvc.RawPublisher) error {
	return errors.New("native subsystem unavailable")
}

func (b *unusableBackend) Ready() <-chan struct{} {
	return b.ready
}

func (b *unusableBackend) Enumerate() ([]padsvc.DeviceDescriptor, error) {
	return nil, nil
}

func TestStartFailsWhenBackendUnusable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc := padsvc.New(zaptest.NewLogger(t), time.Now,
		padsvc.WithBackend("broken", newUnusableBackend()),
		padsvc.WithBackoffTimeout(10*time.Millisecond))
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(ctx)
	}()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, padsvc.ErrNoBackend)
	case <-svc.Ready():
		t.Fatal("service became ready without a usable backend")
	case <-time.After(2 * time.Second):
		t.Fatal("Start neither failed nor became ready")
	}
}

func TestStartToleratesPartialBackendFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	backend := virtual.NewBackend()
	svc := padsvc.New(zaptest.NewLogger(t), time.Now,
		padsvc.WithBackend("virtual", backend),
		padsvc.WithBackend("broken", newUnusableBackend()),
		padsvc.WithBackoffTimeout(10*time.Millisecond))
	go func() {
		if err := svc.Start(ctx); err != nil {
			t.Errorf("service failed: %v", err)
		}
	}()
	select {
	case <-svc.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not become ready")
	}

	require.NoError(t, backend.Connect(testPad()))
	evs := collect(t, svc, 1)
	assert.Equal(t, padsvc.EventConnected, evs[0].Kind)
}

func TestEndToEnd(t *testing.T) {
	svc, backend := startService(t, padsvc.WithGracePeriod(200*time.Millisecond))
	desc := testPad()

	require.NoError(t, backend.Connect(desc))
	evs := collect(t, svc, 1)
	require.Equal(t, padsvc.EventConnected, evs[0].Kind)
	id := evs[0].Gamepad

	pads := svc.Gamepads()
	require.Len(t, pads, 1)
	assert.Equal(t, id, pads[0].ID)
	assert.Equal(t, padsvc.StatusConnected, pads[0].Status)
	assert.Equal(t, "virtual pad", pads[0].Name)

	// press emits exactly one event
	require.NoError(t, backend.Press(desc, 0))
	evs = collect(t, svc, 1)
	assert.Equal(t, padsvc.EventButtonPressed, evs[0].Kind)
	assert.Equal(t, 0, evs[0].Index)

	require.NoError(t, backend.Release(desc, 0))
	evs = collect(t, svc, 1)
	assert.Equal(t, padsvc.EventButtonReleased, evs[0].Kind)

	// one axis move within deadzone 0.05 emits exactly one event
	require.NoError(t, backend.Move(desc, 0, 0.9))
	evs = collect(t, svc, 1)
	assert.Equal(t, padsvc.EventAxisChanged, evs[0].Kind)
	assert.Equal(t, 0.9, evs[0].Value)

	// snapshot reflects the delivered stream
	pad, ok := svc.Gamepad(id)
	require.True(t, ok)
	assert.Equal(t, 0.9, pad.Axes[0].Value)
	assert.False(t, pad.Buttons[0].Pressed)

	require.NoError(t, backend.Disconnect(desc))
	evs = collect(t, svc, 1)
	assert.Equal(t, padsvc.EventDisconnected, evs[0].Kind)
	assert.Equal(t, id, evs[0].Gamepad)

	// still queryable during the grace period
	pad, ok = svc.Gamepad(id)
	require.True(t, ok)
	assert.Equal(t, padsvc.StatusDisconnected, pad.Status)
	assert.Equal(t, 0.9, pad.Axes[0].Value)

	require.Eventually(t, func() bool {
		_, ok := svc.Gamepad(id)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReconnectKeepsIdentity(t *testing.T) {
	svc, backend := startService(t, padsvc.WithGracePeriod(time.Minute))
	desc := testPad()

	require.NoError(t, backend.Connect(desc))
	first := collect(t, svc, 1)[0]

	require.NoError(t, backend.Disconnect(desc))
	collect(t, svc, 1)

	require.NoError(t, backend.Connect(desc))
	second := collect(t, svc, 1)[0]
	assert.Equal(t, padsvc.EventConnected, second.Kind)
	assert.Equal(t, first.Gamepad, second.Gamepad)
}

func TestDuplicateHotplugAbsorbed(t *testing.T) {
	svc, backend := startService(t)
	desc := testPad()

	require.NoError(t, backend.Connect(desc))
	require.NoError(t, backend.Connect(desc))
	require.NoError(t, backend.Disconnect(desc))
	require.NoError(t, backend.Disconnect(desc))

	evs := collect(t, svc, 2)
	assert.Equal(t, padsvc.EventConnected, evs[0].Kind)
	assert.Equal(t, padsvc.EventDisconnected, evs[1].Kind)
	assert.Empty(t, svc.Poll())
}

func TestSampleBeforeConnectIsSkipped(t *testing.T) {
	svc, backend := startService(t)
	desc := testPad()

	require.NoError(t, backend.Press(desc, 0))
	require.NoError(t, backend.Connect(desc))

	evs := collect(t, svc, 1)
	assert.Equal(t, padsvc.EventConnected, evs[0].Kind)
	assert.Empty(t, svc.Poll())
}

func TestWaitTimesOut(t *testing.T) {
	svc, _ := startService(t)

	start := time.Now()
	evs := svc.Wait(context.Background(), 50*time.Millisecond)
	assert.Empty(t, evs)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitReturnsOnCancel(t *testing.T) {
	svc, _ := startService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Wait(ctx, time.Minute)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return on cancellation")
	}
}

func TestPollNeverBlocks(t *testing.T) {
	svc, backend := startService(t)
	assert.Empty(t, svc.Poll())

	desc := testPad()
	require.NoError(t, backend.Connect(desc))
	require.Eventually(t, func() bool {
		return len(svc.Poll()) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueOverflowSurfacesDropped(t *testing.T) {
	svc, backend := startService(t, padsvc.WithQueueCapacity(4))
	desc := testPad()

	require.NoError(t, backend.Connect(desc))
	collect(t, svc, 1)

	// 8 edges into a 4-slot queue
	for i := 0; i < 4; i++ {
		require.NoError(t, backend.Press(desc, 0))
		require.NoError(t, backend.Release(desc, 0))
	}
	require.Eventually(t, func() bool {
		return svc.Drops() > 0
	}, 2*time.Second, 10*time.Millisecond)

	evs := svc.Poll()
	require.NotEmpty(t, evs)
	assert.Equal(t, padsvc.EventDropped, evs[0].Kind)
	assert.GreaterOrEqual(t, evs[0].Drops, uint64(1))
	assert.LessOrEqual(t, evs[0].Drops, svc.Drops())
}
