// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package threea drives auto-exposure, auto-focus and auto-white-balance to
// convergence by issuing one preview request at a time and inspecting the
// control states the device reports back.
package threea

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// Response tags emitted by a run.
const (
	TagAEResult  = "aeResult"
	TagAFResult  = "afResult"
	TagAWBResult = "awbResult"
	TagConverged = "3aConverged"
	TagDone      = "3aDone"
)

// DefaultTimeout bounds a run, measured from its start.
const DefaultTimeout = 10 * time.Second

// ErrAlreadyRunning is returned when Run is called while another run is active.
var ErrAlreadyRunning = errors.New("3A run already in progress")

// Emitter receives the informational frames of a run.
type Emitter interface {
	Send(tag, str string, obj any)
}

// Submitter accepts the requests a run issues.
type Submitter interface {
	Submit(ctx context.Context, req *device.Request) error
}

// Params selects which controls participate in a run.
type Params struct {
	RegionsAE  []device.MeteringRect
	RegionsAF  []device.MeteringRect
	RegionsAWB []device.MeteringRect

	DoAE bool
	DoAF bool

	LockAE  bool
	LockAWB bool

	EVComp int32

	// FixedFocus disables AF participation and reports a synthetic result.
	FixedFocus bool
}

// State is the convergence bookkeeping of one run. Converged flags only ever
// go from false to true within a run; locked flags mirror the latest result.
type State struct {
	ConvergedAE  bool
	ConvergedAF  bool
	ConvergedAWB bool
	LockedAE     bool
	LockedAWB    bool
	TriggeredAE  bool
	TriggeredAF  bool
}

// Phase names the furthest step a run has reached.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseTriggeringAE  Phase = "triggering-ae"
	PhaseTriggeringAF  Phase = "triggering-af"
	PhaseConvergingAWB Phase = "converging-awb"
	PhaseLocking       Phase = "locking"
	PhaseConverged     Phase = "converged"
)

// done reports whether every requested control converged and locked.
func (s State) done(p Params) bool {
	switch {
	case p.DoAE && (!s.TriggeredAE || !s.ConvergedAE):
		return false
	case !s.ConvergedAWB:
		return false
	case p.DoAF && (!s.TriggeredAF || !s.ConvergedAF):
		return false
	case p.DoAE && p.LockAE && !s.LockedAE:
		return false
	case p.LockAWB && !s.LockedAWB:
		return false
	}
	return true
}

// Phase classifies the state for diagnostics.
func (s State) Phase(p Params) Phase {
	switch {
	case s.done(p):
		return PhaseConverged
	case p.DoAE && !s.TriggeredAE:
		return PhaseIdle
	case p.DoAE && !s.ConvergedAE:
		return PhaseTriggeringAE
	case p.DoAF && (!s.TriggeredAF || !s.ConvergedAF):
		return PhaseTriggeringAF
	case !s.ConvergedAWB:
		return PhaseConvergingAWB
	default:
		return PhaseLocking
	}
}

// TimeoutError reports a run that did not converge in time.
type TimeoutError struct {
	Timeout time.Duration
	State   State
	Phase   Phase
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("3A failed to converge after %s (phase %s; AE converged: %t, AF converged: %t, AWB converged: %t)",
		e.Timeout, e.Phase, e.State.ConvergedAE, e.State.ConvergedAF, e.State.ConvergedAWB)
}

// Engine runs 3A sequences. Exactly one request is outstanding at a time;
// the result callback path hands results to the engine through Claim.
//
// aeResult, afResult and awbResult are each sent once per run, carrying the
// values of the first result in which that control is satisfied. Later
// results of the same run do not repeat them, so clients should not wait
// for a final value per control.
type Engine struct {
	timeout time.Duration
	out     Emitter

	mu         sync.Mutex
	running    bool
	issued     bool
	params     Params
	state      State
	sent       map[string]bool
	iterations int
	interlock  chan struct{}

	logger zerolog.Logger
}

// New returns an engine that reports to out.
func New(out Emitter, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		timeout: timeout,
		out:     out,
		logger:  xglog.WithComponent("threea"),
	}
}

// SetTimeout changes the per-run timeout for subsequent runs.
func (e *Engine) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run issues requests built by newRequest until the requested controls
// converge, the per-run deadline passes, or ctx is done. It returns the final
// state and the number of requests issued.
func (e *Engine) Run(ctx context.Context, sub Submitter, newRequest func() *device.Request, p Params) (State, int, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return State{}, 0, ErrAlreadyRunning
	}
	if p.DoAF && p.FixedFocus {
		e.logger.Info().
			Str(xglog.FieldEvent, "threea.fixed_focus").
			Msg("ignoring AF request on fixed-focus lens")
		e.out.Send(TagAFResult, "0.0", nil)
		p.DoAF = false
	}
	e.running = true
	e.issued = false
	e.params = p
	e.state = State{}
	e.sent = make(map[string]bool, 3)
	e.iterations = 0
	e.interlock = make(chan struct{}, 1)
	e.interlock <- struct{}{}
	interlock := e.interlock
	timeout := e.timeout
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.issued = false
		e.mu.Unlock()
	}()

	logger := xglog.WithContext(ctx, e.logger)
	logger.Info().
		Str(xglog.FieldEvent, "threea.start").
		Bool("ae", p.DoAE).
		Bool("af", p.DoAF).
		Bool("ae_lock", p.LockAE).
		Bool("awb_lock", p.LockAWB).
		Int32("ev_comp", p.EVComp).
		Msg("initiating 3A")

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			st, n := e.snapshot()
			return st, n, ctx.Err()
		case <-timer.C:
			return e.timeoutErr(timeout)
		case <-interlock:
		}
		if time.Now().After(deadline) {
			return e.timeoutErr(timeout)
		}

		e.mu.Lock()
		if e.state.done(p) {
			st, n := e.state, e.iterations
			e.mu.Unlock()
			e.out.Send(TagConverged, "", nil)
			logger.Info().
				Str(xglog.FieldEvent, "threea.converged").
				Int("iterations", n).
				Msg("3A converged")
			return st, n, nil
		}
		req := e.buildLocked(newRequest())
		e.issued = true
		e.iterations++
		e.mu.Unlock()

		if err := sub.Submit(ctx, req); err != nil {
			st, n := e.snapshot()
			return st, n, fmt.Errorf("submit 3A request: %w", err)
		}
	}
}

func (e *Engine) snapshot() (State, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.iterations
}

func (e *Engine) timeoutErr(timeout time.Duration) (State, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.iterations, &TimeoutError{Timeout: timeout, State: e.state, Phase: e.state.Phase(e.params)}
}

// buildLocked fills the baseline preview request for the next iteration and
// records any triggers it fires.
func (e *Engine) buildLocked(req *device.Request) *device.Request {
	p := e.params
	req.Set(device.KeyFlashMode, device.FlashModeOff)
	req.Set(device.KeyControlMode, device.ControlModeAuto)
	req.Set(device.KeyControlCaptureIntent, device.CaptureIntentPreview)
	req.Set(device.KeyControlAEMode, device.AEModeOn)
	req.Set(device.KeyControlAEExposureComp, p.EVComp)
	req.Set(device.KeyControlAELock, e.state.ConvergedAE && p.LockAE)
	req.Set(device.KeyControlAERegions, p.RegionsAE)
	req.Set(device.KeyControlAFMode, device.AFModeAuto)
	req.Set(device.KeyControlAFRegions, p.RegionsAF)
	req.Set(device.KeyControlAWBMode, device.AWBModeAuto)
	req.Set(device.KeyControlAWBLock, e.state.ConvergedAWB && p.LockAWB)
	req.Set(device.KeyControlAWBRegions, p.RegionsAWB)
	req.Set(device.KeyControlAEPrecapture, device.AEPrecaptureTriggerIdle)
	req.Set(device.KeyControlAFTrigger, device.AFTriggerIdle)

	if p.DoAE && !e.state.TriggeredAE {
		e.logger.Debug().Str(xglog.FieldEvent, "threea.trigger_ae").Msg("triggering AE")
		req.Set(device.KeyControlAEPrecapture, device.AEPrecaptureTriggerStart)
		e.state.TriggeredAE = true
	}
	if p.DoAF && !e.state.TriggeredAF && (!p.DoAE || (e.state.TriggeredAE && e.state.ConvergedAE)) {
		e.logger.Debug().Str(xglog.FieldEvent, "threea.trigger_af").Msg("triggering AF")
		req.Set(device.KeyControlAFTrigger, device.AFTriggerStart)
		e.state.TriggeredAF = true
	}
	return req
}

// Claim consumes r if it answers the request the engine has outstanding. A
// claimed result must not be counted against any capture batch.
func (e *Engine) Claim(r *device.Result) bool {
	e.mu.Lock()
	if !e.running || !e.issued {
		e.mu.Unlock()
		return false
	}
	e.issued = false
	e.apply(r.Metadata)
	frames := e.informationalLocked(r.Metadata)
	interlock := e.interlock
	e.mu.Unlock()

	for _, f := range frames {
		e.out.Send(f.tag, f.str, nil)
	}
	select {
	case interlock <- struct{}{}:
	default:
	}
	return true
}

func (e *Engine) apply(m device.Metadata) {
	if v, ok := m.Int(device.KeyControlAEState); ok {
		s := int32(v)
		if s == device.AEStateConverged || s == device.AEStateFlashRequired || s == device.AEStateLocked {
			e.state.ConvergedAE = true
		}
		e.state.LockedAE = s == device.AEStateLocked
	}
	if v, ok := m.Int(device.KeyControlAFState); ok {
		if int32(v) == device.AFStateFocusedLocked {
			e.state.ConvergedAF = true
		}
	}
	if v, ok := m.Int(device.KeyControlAWBState); ok {
		s := int32(v)
		if s == device.AWBStateConverged || s == device.AWBStateLocked {
			e.state.ConvergedAWB = true
		}
		e.state.LockedAWB = s == device.AWBStateLocked
	}
}

type info struct {
	tag string
	str string
}

// informationalLocked returns the per-control result frames that became
// available with this result. Each is reported once per run.
func (e *Engine) informationalLocked(m device.Metadata) []info {
	var out []info
	p, st := e.params, e.state

	if !e.sent[TagAEResult] && st.ConvergedAE && (!p.LockAE || st.LockedAE) {
		sens, okS := m.Int(device.KeySensorSensitivity)
		exp, okE := m.Int(device.KeySensorExposureTime)
		if okS && okE {
			out = append(out, info{TagAEResult, fmt.Sprintf("%d %d", sens, exp)})
			e.sent[TagAEResult] = true
		} else {
			e.logger.Info().Bool("sensitivity", okS).Bool("exposure", okE).Msg("AE converged but exposure values missing")
		}
	}

	if !e.sent[TagAFResult] && st.ConvergedAF {
		if dist, ok := m.Float(device.KeyLensFocusDistance); ok {
			out = append(out, info{TagAFResult, fmt.Sprintf("%f", dist)})
			e.sent[TagAFResult] = true
		} else {
			e.logger.Info().Msg("AF converged but focus distance missing")
		}
	}

	if !e.sent[TagAWBResult] && st.ConvergedAWB && (!p.LockAWB || st.LockedAWB) {
		gains, okG := m[device.KeyColorCorrectionGains].(device.RggbGains)
		xform, okX := m[device.KeyColorCorrectionXform].(device.ColorTransform)
		if okG && okX {
			out = append(out, info{TagAWBResult, formatAWB(gains, xform)})
			e.sent[TagAWBResult] = true
		} else {
			e.logger.Info().Bool("gains", okG).Bool("transform", okX).Msg("AWB converged but color correction values missing")
		}
	}
	return out
}

func formatAWB(g device.RggbGains, x device.ColorTransform) string {
	parts := make([]string, 0, 13)
	for _, v := range []float32{g.Red, g.GreenEven, g.GreenOdd, g.Blue} {
		parts = append(parts, fmt.Sprintf("%f", v))
	}
	for _, r := range x {
		parts = append(parts, fmt.Sprintf("%f", r.Float()))
	}
	return strings.Join(parts, " ")
}
