// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/itsd/internal/its/device"
)

type recordingListener struct {
	mu       sync.Mutex
	buffers  []*device.Buffer
	results  []*device.Result
	failures []error
}

func (l *recordingListener) OnBuffer(b *device.Buffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffers = append(l.buffers, b)
}

func (l *recordingListener) OnResult(r *device.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *recordingListener) OnFailure(_ *device.Request, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, err)
}

func (l *recordingListener) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffers), len(l.results), len(l.failures)
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FrameInterval = time.Millisecond
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func openCamera(t *testing.T, m *Manager, id string) device.Device {
	t.Helper()
	cam, err := m.Open(context.Background(), id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cam.Close() })
	return cam
}

func TestManager_OpenRules(t *testing.T) {
	m := testManager(t)

	ids, err := m.CameraIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, ids)

	_, err = m.Open(context.Background(), "9")
	require.ErrorIs(t, err, device.ErrUnknownCamera)

	cam, err := m.Open(context.Background(), "0")
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "0")
	require.ErrorIs(t, err, device.ErrCameraInUse)

	require.NoError(t, cam.Close())
	cam, err = m.Open(context.Background(), "0")
	require.NoError(t, err, "close releases the camera")
	require.NoError(t, cam.Close())
}

func TestSession_CaptureDeliversBuffersAndResult(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := testManager(t)
	cam := openCamera(t, m, "0")
	l := &recordingListener{}

	outputs := []device.StreamConfig{
		{ID: 0, Format: device.FormatYUV420, Size: device.Size{Width: 320, Height: 240}},
		{ID: 1, Format: device.FormatJPEG, Size: device.Size{Width: 640, Height: 480}},
		{ID: 2, Format: device.FormatRawSensor, Size: device.Size{Width: 1280, Height: 960}},
	}
	sess, err := cam.CreateSession(context.Background(), outputs, l)
	require.NoError(t, err)
	defer func() { _ = sess.Close(context.Background()) }()

	req := cam.NewRequest(device.TemplateStill)
	req.Targets = []int{0, 1, 2}
	require.NoError(t, sess.Submit(context.Background(), req))

	require.Eventually(t, func() bool {
		b, r, _ := l.counts()
		return b == 3 && r == 1
	}, 2*time.Second, 5*time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buffers {
		switch b.Format {
		case device.FormatYUV420:
			require.Len(t, b.Planes, 3)
			assert.Len(t, b.Planes[0].Data, 320*240)
		case device.FormatJPEG:
			_, err := jpeg.Decode(bytes.NewReader(b.Planes[0].Data))
			assert.NoError(t, err)
		case device.FormatRawSensor:
			assert.Len(t, b.Planes[0].Data, 1280*960*2)
		}
	}
	md := l.results[0].Metadata
	_, ok := md.Int(device.KeySensorTimestamp)
	assert.True(t, ok)
	assert.Equal(t, int32(100), md[device.KeySensorSensitivity])
}

func TestSession_Validation(t *testing.T) {
	m := testManager(t)
	cam := openCamera(t, m, "0")

	_, err := cam.CreateSession(context.Background(), []device.StreamConfig{
		{ID: 0, Format: device.FormatYUV420, Size: device.Size{Width: 111, Height: 111}},
	}, &recordingListener{})
	require.ErrorIs(t, err, device.ErrUnsupportedStream)

	sess, err := cam.CreateSession(context.Background(), []device.StreamConfig{
		{ID: 0, Format: device.FormatYUV420, Size: device.Size{Width: 640, Height: 480}},
	}, &recordingListener{})
	require.NoError(t, err)
	defer func() { _ = sess.Close(context.Background()) }()

	req := cam.NewRequest(device.TemplatePreview)
	req.Targets = []int{5}
	require.ErrorIs(t, sess.Submit(context.Background(), req), device.ErrUnknownTarget)

	require.NoError(t, sess.Close(context.Background()))
	req.Targets = []int{0}
	require.ErrorIs(t, sess.Submit(context.Background(), req), device.ErrSessionClosed)
}

func TestSession_ThreeAModel(t *testing.T) {
	model := aaaModel{converge: 2}
	settings := device.Metadata{device.KeyControlAEPrecapture: device.AEPrecaptureTriggerStart}

	md := device.Metadata{}
	model.step(settings, md)
	assert.Equal(t, device.AEStateSearching, md[device.KeyControlAEState])

	md = device.Metadata{}
	model.step(device.Metadata{device.KeyControlAFTrigger: device.AFTriggerStart}, md)
	assert.Equal(t, device.AEStateConverged, md[device.KeyControlAEState])
	assert.Equal(t, device.AFStateActiveScan, md[device.KeyControlAFState])

	md = device.Metadata{}
	model.step(device.Metadata{device.KeyControlAELock: true, device.KeyControlAWBLock: true}, md)
	assert.Equal(t, device.AEStateLocked, md[device.KeyControlAEState])
	assert.Equal(t, device.AWBStateLocked, md[device.KeyControlAWBState])
	assert.Equal(t, device.AFStateFocusedLocked, md[device.KeyControlAFState])
	assert.Equal(t, float32(focusedDistance), md[device.KeyLensFocusDistance])
}

func TestSession_Reprocess(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := testManager(t)
	cam := openCamera(t, m, "0")
	l := &recordingListener{}

	input := device.StreamConfig{ID: 9, Format: device.FormatYUV420, Size: device.Size{Width: 1280, Height: 960}}
	outputs := []device.StreamConfig{
		input,
		{ID: 1, Format: device.FormatJPEG, Size: device.Size{Width: 640, Height: 480}},
	}
	sess, err := cam.CreateReprocessSession(context.Background(), input, outputs, l)
	require.NoError(t, err)
	defer func() { _ = sess.Close(context.Background()) }()

	req := cam.NewRequest(device.TemplateStill)
	req.Targets = []int{9}
	require.NoError(t, sess.Submit(context.Background(), req))
	require.Eventually(t, func() bool {
		b, r, _ := l.counts()
		return b == 1 && r == 1
	}, 2*time.Second, 5*time.Millisecond)

	l.mu.Lock()
	inBuf, inRes := l.buffers[0], l.results[0]
	l.mu.Unlock()

	q, err := sess.OpenInputQueue()
	require.NoError(t, err)
	defer func() { _ = q.Close() }()
	require.NoError(t, q.Queue(context.Background(), inBuf))

	rr, err := sess.NewReprocessRequest(inRes)
	require.NoError(t, err)
	rr.Targets = []int{1}
	require.NoError(t, sess.Submit(context.Background(), rr))

	require.Eventually(t, func() bool {
		b, r, _ := l.counts()
		return b == 2 && r == 2
	}, 2*time.Second, 5*time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, device.FormatJPEG, l.buffers[1].Format)
	assert.Same(t, inRes, l.results[1].Request.Input)
}

func TestSession_ReprocessWithoutInputFails(t *testing.T) {
	m := testManager(t)
	cam := openCamera(t, m, "0")

	plain, err := cam.CreateSession(context.Background(), []device.StreamConfig{
		{ID: 0, Format: device.FormatYUV420, Size: device.Size{Width: 640, Height: 480}},
	}, &recordingListener{})
	require.NoError(t, err)
	defer func() { _ = plain.Close(context.Background()) }()

	_, ok := plain.(device.ReprocessSession)
	require.True(t, ok, "sim sessions share one implementation")
	_, err = plain.(device.ReprocessSession).OpenInputQueue()
	require.ErrorIs(t, err, errNotReprocess)
}

func TestSensorsAndVibrator(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewSensors(time.Millisecond)
	var mu sync.Mutex
	seen := map[device.SensorKind]int{}
	require.NoError(t, s.Start(context.Background(), func(k device.SensorKind, _ device.SensorEvent) {
		mu.Lock()
		seen[k]++
		mu.Unlock()
	}))
	require.Error(t, s.Start(context.Background(), nil), "double start")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[device.SensorAccel] > 0 && seen[device.SensorMag] > 0 && seen[device.SensorGyro] > 0
	}, time.Second, 2*time.Millisecond)
	s.Stop()
	s.Stop()

	v := NewVibrator()
	require.NoError(t, v.Vibrate(context.Background(), []int64{0, 100, 50, 100}))
	assert.Equal(t, []int64{0, 100, 50, 100}, v.Last())
	require.Error(t, v.Vibrate(context.Background(), nil))
	require.Error(t, v.Vibrate(context.Background(), []int64{-1}))
}
