package session

import (
	"sync"

	"github.com/esp32-tools/memharness/internal/models"
)

// DeviceState holds the values the reader learns from the stream and the
// orchestrator reads: the last announced IP and the firmware version.
type DeviceState struct {
	mu       sync.Mutex
	lastIP   string
	firmware string
}

// Observe updates state from a classified record.
func (s *DeviceState) Observe(rec *models.Record) {
	switch rec.Kind {
	case models.KindNetwork:
		s.mu.Lock()
		s.lastIP = rec.Network.IP
		s.mu.Unlock()
	case models.KindFirmware:
		s.mu.Lock()
		s.firmware = rec.Firmware.Version
		s.mu.Unlock()
	}
}

func (s *DeviceState) LastIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIP
}

func (s *DeviceState) FirmwareVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firmware
}
