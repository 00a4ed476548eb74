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

package uhf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/simulated"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/wakelock"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type event struct {
	payload any
	stream  broker.Stream
}

type recorder struct {
	events []event
	mu     syncutil.Mutex
}

func (r *recorder) Publish(stream broker.Stream, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{stream: stream, payload: payload})
}

func (r *recorder) stream(s broker.Stream) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.stream == s {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

var host = driver.StaticHost("test")

func newReader(t *testing.T, dev *simulated.UHFReader) (*Reader, *recorder) {
	t.Helper()
	rec := &recorder{}
	r := NewReader(Options{
		Factory:   dev.Factory(),
		Publisher: rec,
		Guard:     wakelock.NewGuard(wakelock.NopInhibitor{}, nil, "test"),
	})
	t.Cleanup(r.Release)
	return r, rec
}

func tag(epc string) driver.TagInfo {
	return driver.TagInfo{EPC: epc, RSSI: "-60", Count: 1}
}

func TestConnect_RequiresHost(t *testing.T) {
	t.Parallel()

	r, rec := newReader(t, simulated.NewUHFReader())
	err := r.Connect(nil)
	require.ErrorIs(t, err, readers.ErrInvalidArgument)
	assert.False(t, r.IsConnected())
	assert.Empty(t, rec.all())
}

func TestConnect_InitRefused(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	dev.RefuseInit = true
	r, _ := newReader(t, dev)

	err := r.Connect(host)
	require.ErrorIs(t, err, readers.ErrConnectFailed)
	assert.False(t, r.IsConnected())
	assert.Equal(t, readers.Disconnected, r.State())
	assert.Equal(t, 1, dev.Frees())
}

func TestConnect_FactoryError(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewReader(Options{
		Factory: func() (driver.UHFReader, error) {
			return nil, errors.New("uart busy")
		},
		Publisher: rec,
	})

	err := r.Connect(host)
	require.ErrorIs(t, err, readers.ErrConnectFailed)
	assert.False(t, r.IsConnected())
}

func TestConnect_NoDriver(t *testing.T) {
	t.Parallel()

	r := NewReader(Options{})
	require.ErrorIs(t, r.Connect(host), readers.ErrNoDriver)
}

func TestConnect_PublishesStatusOnce(t *testing.T) {
	t.Parallel()

	r, rec := newReader(t, simulated.NewUHFReader())
	require.NoError(t, r.Connect(host))
	require.NoError(t, r.Connect(host))

	assert.True(t, r.IsConnected())
	assert.Equal(t, readers.Connected, r.State())
	assert.Equal(t, []any{
		readers.ConnectionStatus{Link: readers.LinkUART, Connected: true},
	}, rec.stream(broker.StreamConnection))
}

func TestSingleScan(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader(tag("4A4B"))
	r, rec := newReader(t, dev)

	_, err := r.SingleScan()
	require.ErrorIs(t, err, readers.ErrNotConnected)

	require.NoError(t, r.Connect(host))

	found, err := r.SingleScan()
	require.NoError(t, err)
	assert.True(t, found)

	found, err = r.SingleScan()
	require.NoError(t, err)
	assert.False(t, found, "empty field is not an error")

	tags := rec.stream(broker.StreamTags)
	require.Len(t, tags, 1)
	reading, ok := tags[0].(readers.TagReading)
	require.True(t, ok)
	assert.Equal(t, "JK", reading.EPCText)
	assert.Equal(t, readers.ScanIdle, r.Mode())
}

func TestStartContinuous_RequiresConnection(t *testing.T) {
	t.Parallel()

	r, _ := newReader(t, simulated.NewUHFReader())
	require.ErrorIs(t, r.StartContinuous(), readers.ErrNotConnected)
	assert.Equal(t, readers.ScanIdle, r.Mode())
}

func TestStartContinuous_SingleWorker(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	dev.PollDelay = time.Millisecond
	r, _ := newReader(t, dev)
	require.NoError(t, r.Connect(host))

	require.NoError(t, r.StartContinuous())
	for range 5 {
		require.NoError(t, r.StartContinuous())
		assert.LessOrEqual(t, r.workers.Load(), int32(1))
	}

	assert.Eventually(t, func() bool { return dev.Polls() > 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), r.workers.Load())

	found, err := r.SingleScan()
	require.NoError(t, err)
	assert.False(t, found, "single scan is a no-op while continuous")

	require.NoError(t, r.StopScan())
	assert.Equal(t, int32(0), r.workers.Load())
	assert.Equal(t, readers.ScanIdle, r.Mode())
}

func TestStopScan_NoopWhenIdle(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	r, _ := newReader(t, dev)
	require.NoError(t, r.Connect(host))

	require.NoError(t, r.StopScan())
	assert.Equal(t, 0, dev.Stops())
}

func TestContinuous_EndToEnd(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	r, rec := newReader(t, dev)

	require.NoError(t, r.Connect(host))
	require.NoError(t, r.StartContinuous())

	dev.Queue(tag("01"), tag("02"), tag("03"))
	assert.Eventually(t, func() bool {
		return len(rec.stream(broker.StreamTags)) == 3
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, r.StopScan())
	polls := dev.Polls()

	dev.Queue(tag("04"))
	require.NoError(t, r.Close())

	assert.Equal(t, polls, dev.Polls(), "no polls after stop")
	assert.Equal(t, 1, dev.Frees())
	assert.False(t, r.IsConnected())

	var epcs []string
	var statuses []bool
	var order []broker.Stream
	for _, e := range rec.all() {
		order = append(order, e.stream)
		switch p := e.payload.(type) {
		case readers.TagReading:
			epcs = append(epcs, p.EPCRaw)
		case readers.ConnectionStatus:
			statuses = append(statuses, p.Connected)
		}
	}

	assert.Equal(t, []string{"01", "02", "03"}, epcs)
	assert.Equal(t, []bool{true, false}, statuses)
	assert.Equal(t, []broker.Stream{
		broker.StreamConnection,
		broker.StreamTags, broker.StreamTags, broker.StreamTags,
		broker.StreamConnection,
	}, order)
}

type panickyReader struct {
	*simulated.UHFReader
	panics atomic.Int32
}

func (p *panickyReader) InventorySingleTag() (*driver.TagInfo, error) {
	if p.panics.Add(1) <= 3 {
		panic("native crash")
	}
	return p.UHFReader.InventorySingleTag()
}

func TestContinuous_SurvivesDriverPanics(t *testing.T) {
	t.Parallel()

	dev := &panickyReader{UHFReader: simulated.NewUHFReader(tag("AA"))}
	rec := &recorder{}
	r := NewReader(Options{
		Factory:   func() (driver.UHFReader, error) { return dev, nil },
		Publisher: rec,
	})
	t.Cleanup(r.Release)

	require.NoError(t, r.Connect(host))
	require.NoError(t, r.StartContinuous())

	assert.Eventually(t, func() bool {
		return len(rec.stream(broker.StreamTags)) == 1
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, r.StopScan())
}

func TestRelease_HaltsLoopAndIsIdempotent(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	guard := wakelock.NewGuard(wakelock.NopInhibitor{}, nil, "test")
	rec := &recorder{}
	r := NewReader(Options{Factory: dev.Factory(), Publisher: rec, Guard: guard})

	require.NoError(t, r.Connect(host))
	assert.True(t, guard.Held())
	require.NoError(t, r.StartContinuous())

	r.Release()
	r.Release()

	assert.Equal(t, readers.ScanIdle, r.Mode())
	assert.False(t, r.IsConnected())
	assert.False(t, guard.Held())
	assert.Equal(t, int32(0), r.workers.Load())
	assert.Equal(t, 1, dev.Frees())
	assert.Len(t, rec.stream(broker.StreamConnection), 2)
}

func TestRestartAfterHalt(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	dev.PollDelay = time.Millisecond
	r, _ := newReader(t, dev)
	require.NoError(t, r.Connect(host))

	require.NoError(t, r.StartContinuous())
	r.Halt()
	require.NoError(t, r.StartContinuous())
	assert.Equal(t, int32(1), r.workers.Load())
	require.NoError(t, r.StopScan())
}

func TestRelease_StartRacingHaltStillFinishes(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	dev.PollDelay = time.Millisecond
	r, _ := newReader(t, dev)
	require.NoError(t, r.Connect(host))

	// StartContinuous past its mode check when Release halts
	r.ctl.Lock()
	released := make(chan struct{})
	go func() {
		r.Release()
		close(released)
	}()
	time.Sleep(20 * time.Millisecond)
	r.mode.Store(int32(readers.ScanContinuous))
	r.worker.Add(1)
	r.workers.Add(1)
	go r.loop()
	r.ctl.Unlock()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("release hung: mode=%v polls=%d", r.Mode(), dev.Polls())
	}
	assert.Equal(t, readers.ScanIdle, r.Mode())
	assert.False(t, r.IsConnected())
	assert.Equal(t, int32(0), r.workers.Load())
}

func TestRelease_ConcurrentWithStartContinuous(t *testing.T) {
	t.Parallel()

	dev := simulated.NewUHFReader()
	dev.PollDelay = time.Millisecond
	r, _ := newReader(t, dev)

	for range 20 {
		require.NoError(t, r.Connect(host))
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.StartContinuous()
		}()
		go func() {
			defer wg.Done()
			r.Release()
		}()
		wg.Wait()
		r.Release()

		assert.Equal(t, readers.ScanIdle, r.Mode())
		assert.Equal(t, int32(0), r.workers.Load())
		assert.False(t, r.IsConnected())
	}
}
