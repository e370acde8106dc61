// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reprocess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// DefaultItemTimeout bounds the wait for each input capture.
const DefaultItemTimeout = 10 * time.Second

// InputTimeoutError reports an input capture whose result or frame did not
// arrive in time.
type InputTimeoutError struct {
	Index     int
	HasResult bool
	HasBuffer bool
	Timeout   time.Duration
}

func (e *InputTimeoutError) Error() string {
	return fmt.Sprintf("reprocess input %d incomplete after %s (result: %t, frame: %t)",
		e.Index, e.Timeout, e.HasResult, e.HasBuffer)
}

type staged struct {
	result *device.Result
	buffer *device.Buffer
}

// Pipeline drives one reprocess batch over an already configured session.
// The session listener hands input-phase callbacks over through
// DeliverResult and DeliverBuffer; everything else flows to the normal
// capture path.
type Pipeline struct {
	sess        device.ReprocessSession
	inputStream int
	outputs     []int
	itemTimeout time.Duration

	mu      sync.Mutex
	active  bool
	results chan *device.Result
	buffers chan *device.Buffer

	logger zerolog.Logger
}

// New returns a pipeline capturing inputs on inputStream and producing
// outputs on the given streams.
func New(sess device.ReprocessSession, inputStream int, outputs []int, itemTimeout time.Duration) *Pipeline {
	if itemTimeout <= 0 {
		itemTimeout = DefaultItemTimeout
	}
	return &Pipeline{
		sess:        sess,
		inputStream: inputStream,
		outputs:     append([]int(nil), outputs...),
		itemTimeout: itemTimeout,
		logger:      xglog.WithComponent("reprocess"),
	}
}

// InputPhase reports whether input captures are in flight.
func (p *Pipeline) InputPhase() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// DeliverResult takes r if the pipeline is collecting input results.
func (p *Pipeline) DeliverResult(r *device.Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return false
	}
	select {
	case p.results <- r:
	default:
		p.logger.Warn().Int64("frame", r.FrameNumber).Msg("unexpected extra input result")
	}
	return true
}

// DeliverBuffer takes b if it is an input frame of the current input phase.
func (p *Pipeline) DeliverBuffer(b *device.Buffer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || b.Stream != p.inputStream {
		return false
	}
	select {
	case p.buffers <- b:
	default:
		p.logger.Warn().Int(xglog.FieldStream, b.Stream).Msg("unexpected extra input frame")
		b.Close()
	}
	return true
}

func (p *Pipeline) setActive(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = on
	if on {
		p.results = make(chan *device.Result, 1)
		p.buffers = make(chan *device.Buffer, 1)
		return
	}
	select {
	case b := <-p.buffers:
		b.Close()
	default:
	}
}

// Run captures one input frame per request, then submits one reprocess
// request per captured input targeting the outputs. arm is called between
// the two phases, before any output callback can arrive.
func (p *Pipeline) Run(ctx context.Context, reqs []*device.Request, arm func()) (err error) {
	queue, err := p.sess.OpenInputQueue()
	if err != nil {
		return fmt.Errorf("open input queue: %w", err)
	}
	defer func() {
		if cerr := queue.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close input queue: %w", cerr)
		}
	}()

	inputs := make([]staged, 0, len(reqs))
	carries := make([]Carry, 0, len(reqs))
	defer func() {
		// Frames not handed to the queue still belong to us.
		for _, in := range inputs {
			if in.buffer != nil {
				in.buffer.Close()
			}
		}
	}()

	for i, req := range reqs {
		in := req.Clone()
		carries = append(carries, Strip(in))
		in.Targets = []int{p.inputStream}

		st, err := p.captureInput(ctx, i, in)
		if err != nil {
			return err
		}
		inputs = append(inputs, st)
	}

	p.logger.Debug().
		Int("inputs", len(inputs)).
		Ints("outputs", p.outputs).
		Msg("input phase complete")

	arm()
	for i := range inputs {
		rr, err := p.sess.NewReprocessRequest(inputs[i].result)
		if err != nil {
			return fmt.Errorf("build reprocess request %d: %w", i, err)
		}
		buf := inputs[i].buffer
		inputs[i].buffer = nil
		if err := queue.Queue(ctx, buf); err != nil {
			buf.Close()
			return fmt.Errorf("queue reprocess input %d: %w", i, err)
		}
		carries[i].Apply(rr)
		rr.Targets = append(rr.Targets[:0], p.outputs...)
		if err := p.sess.Submit(ctx, rr); err != nil {
			return fmt.Errorf("submit reprocess request %d: %w", i, err)
		}
	}
	return nil
}

func (p *Pipeline) captureInput(ctx context.Context, i int, req *device.Request) (staged, error) {
	p.setActive(true)
	defer p.setActive(false)

	p.mu.Lock()
	results, buffers := p.results, p.buffers
	p.mu.Unlock()

	if err := p.sess.Submit(ctx, req); err != nil {
		return staged{}, fmt.Errorf("submit reprocess input %d: %w", i, err)
	}

	timer := time.NewTimer(p.itemTimeout)
	defer timer.Stop()

	var st staged
	for st.result == nil || st.buffer == nil {
		select {
		case r := <-results:
			st.result = r
		case b := <-buffers:
			st.buffer = b
		case <-ctx.Done():
			if st.buffer != nil {
				st.buffer.Close()
			}
			return staged{}, ctx.Err()
		case <-timer.C:
			if st.buffer != nil {
				st.buffer.Close()
			}
			return staged{}, &InputTimeoutError{
				Index:     i,
				HasResult: st.result != nil,
				HasBuffer: st.buffer != nil,
				Timeout:   p.itemTimeout,
			}
		}
	}
	return st, nil
}
