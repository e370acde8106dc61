// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import "github.com/ManuGH/itsd/internal/its/device"

// focusedDistance is the diopter value reported once AF locks.
const focusedDistance = 2.0

// aaaModel converges each control a fixed number of frames after it was
// (re)started. It is only touched by the session's pipeline goroutine.
type aaaModel struct {
	converge   int
	fixedFocus bool

	aeFrames    int
	awbFrames   int
	afFrames    int
	afTriggered bool
}

func (m *aaaModel) step(settings, md device.Metadata) {
	if v, _ := settings.Int(device.KeyControlAEPrecapture); int32(v) == device.AEPrecaptureTriggerStart {
		m.aeFrames = 0
	}
	m.aeFrames++
	m.awbFrames++

	aeLock, _ := settings.Bool(device.KeyControlAELock)
	awbLock, _ := settings.Bool(device.KeyControlAWBLock)

	ae := device.AEStateSearching
	if m.aeFrames >= m.converge {
		ae = device.AEStateConverged
		if aeLock {
			ae = device.AEStateLocked
		}
	}
	md[device.KeyControlAEState] = ae

	awb := device.AWBStateSearching
	if m.awbFrames >= m.converge {
		awb = device.AWBStateConverged
		if awbLock {
			awb = device.AWBStateLocked
		}
	}
	md[device.KeyControlAWBState] = awb

	if m.fixedFocus {
		md[device.KeyControlAFState] = device.AFStateInactive
		md[device.KeyLensFocusDistance] = float32(0)
		return
	}
	if v, _ := settings.Int(device.KeyControlAFTrigger); int32(v) == device.AFTriggerStart {
		m.afTriggered = true
		m.afFrames = 0
	}
	af := device.AFStateInactive
	if m.afTriggered {
		m.afFrames++
		af = device.AFStateActiveScan
		if m.afFrames >= m.converge {
			af = device.AFStateFocusedLocked
			md[device.KeyLensFocusDistance] = float32(focusedDistance)
		}
	}
	md[device.KeyControlAFState] = af
}
