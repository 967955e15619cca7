// Package gpio provides the provisioning button input with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the button input.
type Reader interface {
	// Pressed reports whether the button is held. The line is active-high
	// with a pull-down, so an open contact reads as released.
	Pressed() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Default line offsets on gpiochip0.
const (
	DefaultChip      = "gpiochip0"
	DefaultButtonPin = 17
)
