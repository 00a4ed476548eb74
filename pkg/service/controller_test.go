// Zaparoo Handheld
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Handheld.
//
// Zaparoo Handheld is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Handheld is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Handheld.  If not, see <http://www.gnu.org/licenses/>.

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/simulated"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/wakelock"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/testing/mocks"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testHost = driver.StaticHost("test")

const sledAddress = "AA:BB:CC:DD:EE:FF"

type sink struct {
	got map[broker.Stream][]any
	mu  syncutil.Mutex
}

func (s *sink) Deliver(stream broker.Stream, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = make(map[broker.Stream][]any)
	}
	s.got[stream] = append(s.got[stream], payload)
}

func (s *sink) count(stream broker.Stream) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got[stream])
}

type rig struct {
	c       *Controller
	uhf     *simulated.UHFReader
	decoder *simulated.DecoderFactory
	sled    *simulated.BLEReader
	sink    *sink
}

func newController(t *testing.T, drivers Drivers, clock clockwork.Clock) *Controller {
	t.Helper()
	hub := broker.NewBroker()
	hub.Start(context.Background())
	c := NewController(Options{
		Hub:       hub,
		Inhibitor: wakelock.NopInhibitor{},
		Clock:     clock,
		Drivers:   drivers,
	})
	c.SetHost(testHost)
	t.Cleanup(func() {
		c.ForceCleanup()
		hub.Stop()
	})
	return c
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		uhf:     simulated.NewUHFReader(),
		decoder: &simulated.DecoderFactory{},
		sled:    simulated.NewBLEReader(driver.DeviceInfo{Name: "sled", Address: sledAddress}),
		sink:    &sink{},
	}
	r.c = newController(t, Drivers{
		UHF:      r.uhf.Factory(),
		Barcode:  r.decoder.New,
		BLE:      r.sled.Factory(),
		Unlocker: r.decoder,
	}, nil)
	for _, s := range broker.AllStreams {
		r.c.Hub().Subscribe(s, r.sink)
	}
	return r
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, code, cmdErr.Code)
	assert.NotEmpty(t, cmdErr.Message)
}

func TestCommands_ErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		run  func(c *Controller) error
		name string
		code string
	}{
		{
			name: "single scan before connect",
			run: func(c *Controller) error {
				_, err := c.StartSingleScan()
				return err
			},
			code: CodeNotConnected,
		},
		{
			name: "continuous scan before connect",
			run:  func(c *Controller) error { return c.StartContinuousScan() },
			code: CodeNotConnected,
		},
		{
			name: "stop barcode before connect",
			run:  func(c *Controller) error { return c.StopScanBarcode() },
			code: CodeNotConnected,
		},
		{
			name: "empty address",
			run:  func(c *Controller) error { return c.ConnectDevice(context.Background(), "") },
			code: CodeInvalidMAC,
		},
		{
			name: "inventory without link",
			run: func(c *Controller) error {
				_, err := c.SingleInventory()
				return err
			},
			code: CodeNotConnected,
		},
		{
			name: "battery without link",
			run: func(c *Controller) error {
				_, err := c.GetBatteryLevel()
				return err
			},
			code: CodeNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newRig(t)
			requireCode(t, tt.run(r.c), tt.code)
		})
	}
}

func TestCommands_NoDriverIsNotSupported(t *testing.T) {
	t.Parallel()

	c := newController(t, Drivers{}, nil)
	requireCode(t, c.Connect(), CodeNotSupported)
	requireCode(t, c.ConnectBarcode(context.Background()), CodeNotSupported)
	requireCode(t, c.StartDiscovery(context.Background()), CodeNotSupported)
}

func TestConnect_WithoutHost(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.c.SetHost(nil)
	requireCode(t, r.c.Connect(), CodeInvalidArgument)
	assert.False(t, r.c.IsConnected())
}

func TestConnect_RefusedInit(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.uhf.RefuseInit = true
	requireCode(t, r.c.Connect(), CodeConnectError)
}

func TestSingleScan_PublishesTag(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.uhf.Queue(driver.TagInfo{EPC: "E2801160", Count: 1})
	require.NoError(t, r.c.Connect())
	assert.True(t, r.c.IsConnected())

	found, err := r.c.StartSingleScan()
	require.NoError(t, err)
	assert.True(t, found)

	found, err = r.c.StartSingleScan()
	require.NoError(t, err)
	assert.False(t, found)

	assert.Eventually(t, func() bool { return r.sink.count(broker.StreamTags) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.c.Close())
	assert.False(t, r.c.IsConnected())
}

func TestForceCleanup_ConcurrentCallsLeaveEverythingIdle(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.c.Connect())
	require.NoError(t, r.c.StartContinuousScan())
	require.NoError(t, r.c.ConnectBarcode(ctx))
	require.NoError(t, r.c.ScanBarcodeContinuous(ctx))
	require.NoError(t, r.c.ConnectDevice(ctx, sledAddress))
	require.True(t, r.c.GetConnectionStatus())
	require.True(t, r.c.GuardsHeld())

	const callers = 8
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.c.ForceCleanup()
		}()
	}
	wg.Wait()

	uart, bc, ble := r.c.Modes()
	assert.Equal(t, readers.ScanIdle, uart)
	assert.Equal(t, readers.ScanIdle, bc)
	assert.Equal(t, readers.ScanIdle, ble)
	assert.False(t, r.c.IsConnected())
	assert.False(t, r.c.GetConnectionStatus())
	assert.False(t, r.c.GuardsHeld())
	assert.Equal(t, int64(callers), r.c.Cleanups())
	assert.Equal(t, 1, r.uhf.Frees())
	assert.Equal(t, callers, r.decoder.Unlocks())
	assert.Equal(t, 0, r.c.sched.Pending())
}

func TestForceCleanup_UnlockerPanicDoesNotStopCleanup(t *testing.T) {
	t.Parallel()

	unlocker := &mocks.MockUnlocker{}
	unlocker.On("ReleaseAll").Run(func(mock.Arguments) { panic("native crash") })

	dev := simulated.NewUHFReader()
	c := newController(t, Drivers{UHF: dev.Factory(), Unlocker: unlocker}, nil)
	require.NoError(t, c.Connect())

	assert.NotPanics(t, c.ForceCleanup)
	assert.False(t, c.IsConnected())
	assert.False(t, c.GuardsHeld())
	unlocker.AssertNumberOfCalls(t, "ReleaseAll", 1)
}

func TestForceCleanup_FreesMockedReader(t *testing.T) {
	t.Parallel()

	dev := &mocks.MockUHFReader{}
	dev.On("Init", testHost).Return(true, nil)
	dev.On("StopInventory").Return(nil)
	dev.On("Free").Return(nil).Once()

	c := newController(t, Drivers{
		UHF: func() (driver.UHFReader, error) { return dev, nil },
	}, nil)
	require.NoError(t, c.Connect())

	c.ForceCleanup()
	c.ForceCleanup()
	dev.AssertExpectations(t)
}

func TestScanBarcode_StartFailure(t *testing.T) {
	t.Parallel()

	dec := &mocks.MockBarcodeDecoder{}
	dec.On("Open", testHost).Return(true, nil)
	dec.On("SetDecodeCallback", mock.Anything).Return()
	dec.On("StartScan").Return(assert.AnError)
	dec.On("StopScan").Return(nil)
	dec.On("Close").Return(nil).Once()

	c := newController(t, Drivers{
		Barcode: func() (driver.BarcodeDecoder, error) { return dec, nil },
	}, nil)
	ctx := context.Background()
	require.NoError(t, c.ConnectBarcode(ctx))

	requireCode(t, c.ScanBarcodeSingle(ctx), CodeStartScanError)
	_, mode, _ := c.Modes()
	assert.Equal(t, readers.ScanIdle, mode)

	require.NoError(t, c.CloseBarcode())
	dec.AssertExpectations(t)
}

func TestOnAttach_SchedulesSecondPass(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	c := newController(t, Drivers{}, clock)

	settled := c.OnAttach(testHost)
	assert.Equal(t, int64(1), c.Cleanups())
	select {
	case <-settled:
		t.Fatal("settled before the second pass")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(config.DefaultSecondPassDelay)

	require.NoError(t, c.WaitSettled(ctx))
	assert.Equal(t, int64(2), c.Cleanups())
}

func TestWaitSettled_WithoutAttachReturnsAtOnce(t *testing.T) {
	t.Parallel()

	c := newController(t, Drivers{}, clockwork.NewFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	select {
	case <-c.Settled():
	default:
		t.Fatal("no attach pending, expected a closed channel")
	}

	c.OnAttach(testHost)
	require.ErrorIs(t, c.WaitSettled(ctx), context.Canceled)
}

func TestOnAttach_LaterCleanupCancelsSecondPass(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	c := newController(t, Drivers{}, clock)

	settled := c.OnAttach(testHost)
	c.OnReattach(testHost)
	require.Equal(t, int64(2), c.Cleanups())

	select {
	case <-settled:
	case <-time.After(time.Second):
		t.Fatal("cancelling cleanup did not settle the attach")
	}

	clock.Advance(config.DefaultSecondPassDelay)
	assert.Never(t, func() bool { return c.Cleanups() > 2 }, 50*time.Millisecond, time.Millisecond)
}

func TestOnDetach_DropsSubscriptions(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.True(t, r.c.Hub().Subscribed(broker.StreamTags))

	r.c.OnDetach()
	for _, s := range broker.AllStreams {
		assert.False(t, r.c.Hub().Subscribed(s), s)
	}
	requireCode(t, r.c.Connect(), CodeInvalidArgument)
}

func TestSupervisor_InstallPreemptsPrevious(t *testing.T) {
	t.Parallel()

	first := newRig(t)
	second := newController(t, Drivers{}, nil)
	require.NoError(t, first.c.Connect())

	s := &Supervisor{}
	s.Install(first.c)
	s.Install(first.c)
	assert.Equal(t, int64(0), first.c.Cleanups())

	s.Install(second)
	assert.Same(t, second, s.Current())
	assert.Equal(t, int64(1), first.c.Cleanups())
	assert.False(t, first.c.IsConnected())

	s.Remove(first.c)
	assert.Same(t, second, s.Current())
	s.Remove(second)
	assert.Nil(t, s.Current())
}

// cleanupWithin runs a forced cleanup and fails if it does not return.
func cleanupWithin(t *testing.T, c *Controller, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.ForceCleanup()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		uart, _, _ := c.Modes()
		t.Fatalf("cleanup hung: uart mode=%v connected=%v", uart, c.IsConnected())
	}
}

func TestForceCleanup_RacesUHFScan(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.uhf.PollDelay = time.Millisecond

	for range 25 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if r.c.Connect() == nil {
				_ = r.c.StartContinuousScan()
			}
		}()
		go func() {
			defer wg.Done()
			r.c.ForceCleanup()
		}()
		wg.Wait()
		cleanupWithin(t, r.c, 2*time.Second)

		uart, _, _ := r.c.Modes()
		assert.Equal(t, readers.ScanIdle, uart)
		assert.False(t, r.c.IsConnected())
		assert.False(t, r.c.GuardsHeld())
	}
}

func TestForceCleanup_RacesBLEConnect(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	for range 25 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if r.c.ConnectDevice(ctx, sledAddress) == nil {
				_ = r.c.StartInventory()
			}
		}()
		go func() {
			defer wg.Done()
			r.c.ForceCleanup()
		}()
		wg.Wait()
		cleanupWithin(t, r.c, 2*time.Second)
		require.NoError(t, r.sled.Free())

		_, _, ble := r.c.Modes()
		assert.Equal(t, readers.ScanIdle, ble)
		assert.False(t, r.c.GetConnectionStatus())
		assert.False(t, r.c.GuardsHeld(), "late link event re-took the wake lock")
	}
}

func TestForceCleanup_DuringBarcodeBackoff(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	decoders := &simulated.DecoderFactory{}
	c := newController(t, Drivers{Barcode: decoders.New, Unlocker: decoders}, clock)

	errCh := make(chan error, 1)
	go func() { errCh <- c.ConnectBarcode(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	c.ForceCleanup()
	clock.Advance(config.DefaultBackoffStep)

	requireCode(t, <-errCh, CodeOpenError)
	_, mode, _ := c.Modes()
	assert.Equal(t, readers.ScanIdle, mode)
	for _, d := range decoders.Built() {
		assert.Equal(t, 1, d.Closes(), "decoder opened across a cleanup stays closed")
	}
}

func TestForceCleanup_RacesBarcodeScan(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	for range 4 {
		cleanupWithin(t, r.c, 2*time.Second)
		if err := r.c.ConnectBarcode(ctx); err != nil {
			requireCode(t, err, CodeOpenError)
			continue
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.c.ScanBarcodeContinuous(ctx)
		}()
		go func() {
			defer wg.Done()
			r.c.ForceCleanup()
		}()
		wg.Wait()
		cleanupWithin(t, r.c, 2*time.Second)

		_, mode, _ := r.c.Modes()
		assert.Equal(t, readers.ScanIdle, mode)
		assert.Equal(t, 0, r.c.sched.Pending())
	}
}
