package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"router-fleet/pkg/model"
)

// fakeChannel scripts channel behavior per call.
type fakeChannel struct {
	name string
	fn   func(call int, op Operation) (Result, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Execute(_ context.Context, _ model.Device, op Operation) (Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, op)
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func failWith(kind Kind) func(int, Operation) (Result, error) {
	return func(int, Operation) (Result, error) {
		return Result{}, newError(kind, "primary", OpGetState, fmt.Errorf("scripted %s", kind))
	}
}

func okState(channel model.Channel) func(int, Operation) (Result, error) {
	return func(int, Operation) (Result, error) {
		return Result{State: &model.DeviceState{DeviceID: "r1", Hostname: "r1"}, Channel: channel}, nil
	}
}

func testCfg() RouterConfig {
	return RouterConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, PerDeviceLimit: 2}
}

var testDevice = model.Device{ID: "r1", Address: "http://127.0.0.1:1", CredentialRef: "ref"}

func TestReadFallsBackOnTimeout(t *testing.T) {
	primary := &fakeChannel{name: "primary", fn: failWith(KindTimeout)}
	fallback := &fakeChannel{name: "fallback", fn: okState(model.ChannelFallback)}
	r := NewRouter(primary, fallback, testCfg())

	res, err := r.Execute(context.Background(), testDevice, Operation{Name: OpGetState, Kind: OpRead})
	require.NoError(t, err)
	require.Equal(t, model.ChannelFallback, res.Channel)
	require.Equal(t, "r1", res.State.DeviceID)
	require.Equal(t, 2, primary.callCount()) // initial + one retry
	require.Equal(t, 1, fallback.callCount())
}

func TestMutateNeverFallsBack(t *testing.T) {
	for _, kind := range []Kind{KindTimeout, KindServer, KindDisabled, KindConnection} {
		primary := &fakeChannel{name: "primary", fn: failWith(kind)}
		fallback := &fakeChannel{name: "fallback", fn: okState(model.ChannelFallback)}
		r := NewRouter(primary, fallback, testCfg())

		_, err := r.Execute(context.Background(), testDevice, Operation{Name: OpApplyConfig, Kind: OpMutate})
		require.Errorf(t, err, "kind %s", kind)
		require.Equalf(t, 0, fallback.callCount(), "kind %s reached the fallback channel", kind)
	}
}

func TestTransientRetriedThenSucceeds(t *testing.T) {
	primary := &fakeChannel{name: "primary", fn: func(call int, op Operation) (Result, error) {
		if call == 1 {
			return Result{}, newError(KindServer, "primary", op.Name, errors.New("http 503"))
		}
		return okState(model.ChannelPrimary)(call, op)
	}}
	r := NewRouter(primary, nil, testCfg())

	res, err := r.Execute(context.Background(), testDevice, Operation{Name: OpGetState, Kind: OpRead})
	require.NoError(t, err)
	require.Equal(t, model.ChannelPrimary, res.Channel)
	require.Equal(t, 2, primary.callCount())
}

func TestPermanentFailureNotRetriedNorFallback(t *testing.T) {
	for _, kind := range []Kind{KindAuth, KindValidation} {
		primary := &fakeChannel{name: "primary", fn: failWith(kind)}
		fallback := &fakeChannel{name: "fallback", fn: okState(model.ChannelFallback)}
		r := NewRouter(primary, fallback, testCfg())

		_, err := r.Execute(context.Background(), testDevice, Operation{Name: OpGetState, Kind: OpRead})
		var terr *Error
		require.ErrorAs(t, err, &terr)
		require.Equal(t, kind, terr.Kind)
		require.False(t, terr.Retryable)
		require.Equal(t, 1, primary.callCount())
		require.Equal(t, 0, fallback.callCount())
	}
}

func TestDisabledPrimarySkipsStraightToFallback(t *testing.T) {
	primary := &fakeChannel{name: "primary", fn: failWith(KindDisabled)}
	fallback := &fakeChannel{name: "fallback", fn: okState(model.ChannelFallback)}
	r := NewRouter(primary, fallback, testCfg())

	res, err := r.Execute(context.Background(), testDevice, Operation{Name: OpGetState, Kind: OpRead})
	require.NoError(t, err)
	require.Equal(t, model.ChannelFallback, res.Channel)
	require.Equal(t, 1, primary.callCount()) // disabled is not retryable
}

func TestBothChannelsExhaustedIsUnreachable(t *testing.T) {
	primary := &fakeChannel{name: "primary", fn: failWith(KindTimeout)}
	fallback := &fakeChannel{name: "fallback", fn: failWith(KindConnection)}
	r := NewRouter(primary, fallback, testCfg())

	_, err := r.Execute(context.Background(), testDevice, Operation{Name: OpGetState, Kind: OpRead})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, KindUnreachable, terr.Kind)
}

func TestPerDeviceConcurrencyLimit(t *testing.T) {
	var inFlight, peak int64
	release := make(chan struct{})
	primary := &fakeChannel{name: "primary", fn: func(call int, op Operation) (Result, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		<-release
		atomic.AddInt64(&inFlight, -1)
		return Result{State: &model.DeviceState{DeviceID: "r1"}, Channel: model.ChannelPrimary}, nil
	}}
	r := NewRouter(primary, nil, testCfg())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Execute(context.Background(), testDevice, Operation{Name: OpGetState, Kind: OpRead})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	require.Equal(t, 4, primary.callCount())
}
