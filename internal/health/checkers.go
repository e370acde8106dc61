// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"time"
)

// ListenerChecker reports whether the harness socket accepts clients.
type ListenerChecker struct {
	listening func() bool
	connected func() bool
}

// NewListenerChecker creates a checker over the harness state accessors.
// connected may be nil.
func NewListenerChecker(listening, connected func() bool) *ListenerChecker {
	return &ListenerChecker{listening: listening, connected: connected}
}

func (c *ListenerChecker) Name() string {
	return "harness_listener"
}

func (c *ListenerChecker) Check(_ context.Context) CheckResult {
	if !c.listening() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "harness listener is not accepting connections",
		}
	}
	if c.connected != nil && c.connected() {
		return CheckResult{Status: StatusHealthy, Message: "client connected"}
	}
	return CheckResult{Status: StatusHealthy, Message: "waiting for client"}
}

// CameraLister is the part of a device manager the device check needs.
type CameraLister interface {
	CameraIDs(ctx context.Context) ([]string, error)
}

// DeviceChecker verifies the camera stack enumerates at least one camera.
type DeviceChecker struct {
	devices CameraLister
	timeout time.Duration
}

// NewDeviceChecker creates a checker bounded by timeout per check.
func NewDeviceChecker(devices CameraLister, timeout time.Duration) *DeviceChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DeviceChecker{devices: devices, timeout: timeout}
}

func (c *DeviceChecker) Name() string {
	return "device_manager"
}

func (c *DeviceChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ids, err := c.devices.CameraIDs(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "camera enumeration failed",
		}
	}
	if len(ids) == 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no cameras available",
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d camera(s) available", len(ids)),
	}
}
