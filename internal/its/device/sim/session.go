// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/itsd/internal/its/device"
)

const (
	queueDepth  = 64
	streamDepth = 4
	inputDepth  = 8
	inputWait   = time.Second
)

var (
	errNotReprocess = errors.New("session has no reprocess input")
	errNoInput      = errors.New("no reprocess input frame queued")
	errQueueClosed  = errors.New("input queue closed")
)

type session struct {
	cam     *Camera
	input   *device.StreamConfig
	outputs map[int]device.StreamConfig
	l       device.Listener

	queue   chan *device.Request
	inputs  chan *device.Buffer
	streams map[int]chan *device.Buffer
	results chan func()

	mu        sync.Mutex
	repeating []*device.Request
	repIdx    int

	model  aaaModel
	frame  int64
	closed atomic.Bool

	stop         chan struct{}
	pipelineDone chan struct{}
	workers      sync.WaitGroup
	closeOnce    sync.Once
}

var (
	_ device.Session          = (*session)(nil)
	_ device.ReprocessSession = (*session)(nil)
)

func newSession(c *Camera, input *device.StreamConfig, outputs []device.StreamConfig, l device.Listener) *session {
	s := &session{
		cam:          c,
		input:        input,
		outputs:      make(map[int]device.StreamConfig, len(outputs)),
		l:            l,
		queue:        make(chan *device.Request, queueDepth),
		inputs:       make(chan *device.Buffer, inputDepth),
		streams:      make(map[int]chan *device.Buffer, len(outputs)),
		results:      make(chan func(), queueDepth),
		model:        aaaModel{converge: c.spec.ConvergeFrames, fixedFocus: c.spec.MinFocusDistance == 0},
		stop:         make(chan struct{}),
		pipelineDone: make(chan struct{}),
	}
	for _, o := range outputs {
		s.outputs[o.ID] = o
		ch := make(chan *device.Buffer, streamDepth)
		s.streams[o.ID] = ch
		s.workers.Add(1)
		go s.deliverBuffers(ch)
	}
	s.workers.Add(1)
	go s.deliverResults()
	go s.run()
	return s
}

func (s *session) deliverBuffers(ch <-chan *device.Buffer) {
	defer s.workers.Done()
	for b := range ch {
		if s.closed.Load() {
			b.Close()
			continue
		}
		s.l.OnBuffer(b)
	}
}

func (s *session) deliverResults() {
	defer s.workers.Done()
	for f := range s.results {
		if !s.closed.Load() {
			f()
		}
	}
}

func (s *session) checkTargets(req *device.Request) error {
	if len(req.Targets) == 0 {
		return fmt.Errorf("%w: request has no targets", device.ErrUnknownTarget)
	}
	for _, id := range req.Targets {
		if _, ok := s.outputs[id]; !ok {
			return fmt.Errorf("%w: %d", device.ErrUnknownTarget, id)
		}
	}
	if req.Input != nil && s.input == nil {
		return errNotReprocess
	}
	return nil
}

func (s *session) Submit(ctx context.Context, req *device.Request) error {
	if s.closed.Load() {
		return device.ErrSessionClosed
	}
	if err := s.checkTargets(req); err != nil {
		return err
	}
	select {
	case s.queue <- req.Clone():
		return nil
	case <-s.stop:
		return device.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) SetRepeating(_ context.Context, reqs []*device.Request) error {
	if s.closed.Load() {
		return device.ErrSessionClosed
	}
	burst := make([]*device.Request, 0, len(reqs))
	for _, r := range reqs {
		if err := s.checkTargets(r); err != nil {
			return err
		}
		burst = append(burst, r.Clone())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeating = burst
	s.repIdx = 0
	return nil
}

func (s *session) StopRepeating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeating = nil
	return nil
}

// Close stops frame production and waits for the delivery goroutines.
func (s *session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		<-s.pipelineDone
		for _, ch := range s.streams {
			close(ch)
		}
		close(s.results)
	})

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("close session: %w", ctx.Err())
	}
	for {
		select {
		case b := <-s.inputs:
			b.Close()
		default:
			return nil
		}
	}
}

func (s *session) NewReprocessRequest(input *device.Result) (*device.Request, error) {
	if s.input == nil {
		return nil, errNotReprocess
	}
	if input == nil {
		return nil, fmt.Errorf("reprocess request needs an input result")
	}
	req := device.NewRequest(device.TemplateStill)
	req.Settings = input.Metadata.Clone()
	req.Input = input
	return req, nil
}

func (s *session) OpenInputQueue() (device.InputQueue, error) {
	if s.input == nil {
		return nil, errNotReprocess
	}
	return &inputQueue{s: s}, nil
}

type inputQueue struct {
	s      *session
	closed atomic.Bool
}

func (q *inputQueue) Queue(ctx context.Context, b *device.Buffer) error {
	if q.closed.Load() {
		return errQueueClosed
	}
	select {
	case q.s.inputs <- b:
		return nil
	case <-q.s.stop:
		return device.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *inputQueue) Close() error {
	q.closed.Store(true)
	return nil
}

// run produces one frame per interval from the request queue, falling back
// to the repeating burst when the queue is empty.
func (s *session) run() {
	defer close(s.pipelineDone)
	t := time.NewTicker(s.cam.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		if req := s.next(); req != nil {
			s.produce(req)
		}
	}
}

func (s *session) next() *device.Request {
	select {
	case req := <-s.queue:
		return req
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.repeating) == 0 {
		return nil
	}
	req := s.repeating[s.repIdx%len(s.repeating)]
	s.repIdx++
	return req.Clone()
}

func (s *session) produce(req *device.Request) {
	s.frame++
	frame := s.frame
	ts := time.Now().UnixNano()

	if req.Input != nil {
		in, err := s.takeInput()
		if err != nil {
			s.emit(func() { s.l.OnFailure(req, err) })
			return
		}
		defer in.Close()
	}

	md := s.resultMetadata(req, ts)
	for _, id := range req.Targets {
		cfg := s.outputs[id]
		b, err := synthesize(cfg, md, ts)
		if err != nil {
			s.emit(func() { s.l.OnFailure(req, err) })
			return
		}
		select {
		case s.streams[id] <- b:
		case <-s.stop:
			b.Close()
			return
		}
	}
	s.emit(func() { s.l.OnResult(&device.Result{Request: req, Metadata: md, FrameNumber: frame}) })
}

func (s *session) takeInput() (*device.Buffer, error) {
	t := time.NewTimer(inputWait)
	defer t.Stop()
	select {
	case in := <-s.inputs:
		return in, nil
	case <-s.stop:
		return nil, device.ErrSessionClosed
	case <-t.C:
		return nil, errNoInput
	}
}

func (s *session) emit(f func()) {
	select {
	case s.results <- f:
	case <-s.stop:
	}
}

func (s *session) resultMetadata(req *device.Request, ts int64) device.Metadata {
	md := req.Settings.Clone()
	if _, ok := md[device.KeySensorSensitivity]; !ok {
		md[device.KeySensorSensitivity] = int32(100)
	}
	if _, ok := md[device.KeySensorExposureTime]; !ok {
		md[device.KeySensorExposureTime] = int64(10_000_000)
	}
	if _, ok := md[device.KeySensorFrameDuration]; !ok {
		md[device.KeySensorFrameDuration] = int64(33_333_333)
	}
	md[device.KeySensorTimestamp] = ts
	md[device.KeySensorBlackLevel] = []float32{blackLevel, blackLevel, blackLevel, blackLevel}
	md[device.KeySensorDynamicWhite] = int32(whiteLevel)
	if _, ok := md[device.KeyColorCorrectionGains]; !ok {
		md[device.KeyColorCorrectionGains] = device.RggbGains{Red: 1.9, GreenEven: 1, GreenOdd: 1, Blue: 1.7}
	}
	if _, ok := md[device.KeyColorCorrectionXform]; !ok {
		var x device.ColorTransform
		for i := range x {
			x[i] = device.Rational{Denominator: 1}
		}
		x[0].Numerator, x[4].Numerator, x[8].Numerator = 1, 1, 1
		md[device.KeyColorCorrectionXform] = x
	}
	if _, ok := md[device.KeyLensFocusDistance]; !ok {
		md[device.KeyLensFocusDistance] = float32(0)
	}
	s.model.step(req.Settings, md)
	return md
}
