package device

import "errors"

// ErrPlatform is returned when the platform rejects a device update.
var ErrPlatform = errors.New("device: platform update failed")
