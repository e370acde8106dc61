// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for itsd.
//
// Configuration is resolved with the precedence ENV > file > defaults. The
// YAML file is parsed strictly; unknown keys are fatal. A Holder watches the
// file and swaps in a new configuration after it validated.
package config
