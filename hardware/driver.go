// Package hardware defines the contract between the tag session manager and
// the NFC controller backends under it.
package hardware

import (
	"context"

	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// Driver is an NFC controller backend. Run polls the controller and reports
// tags to r until ctx is done.
type Driver interface {
	service.DeviceHost
	Run(ctx context.Context, r service.Registrar) error
	Close() error
}
