// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
)

// Codec is the device.MetadataCodec backed by this package. Skipped
// entries are logged to Logger.
type Codec struct {
	Logger zerolog.Logger
}

var _ device.MetadataCodec = Codec{}

func (c Codec) ToWire(md device.Metadata) map[string]any { return EncodeLogged(md, c.Logger) }

func (c Codec) FromWire(obj map[string]any, req *device.Request) error {
	return DecodeRequest(obj, req, c.Logger)
}
