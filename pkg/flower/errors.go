package flower

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported marks rules the firmware cannot represent. The rule
	// stays on the software path.
	ErrUnsupported = errors.New("unsupported flow")

	ErrResourceExhausted = errors.New("resource exhausted")
	ErrActionsTooLarge   = fmt.Errorf("%w: action list too large", ErrResourceExhausted)
	ErrTableFull         = fmt.Errorf("%w: flow table full", ErrResourceExhausted)
	ErrNoIDs             = fmt.Errorf("%w: no free context ids", ErrResourceExhausted)
	ErrNoMaskIDs         = fmt.Errorf("%w: no free mask ids", ErrResourceExhausted)

	// ErrFlowExists is returned when a (cookie, ingress) pair is already offloaded.
	ErrFlowExists = errors.New("flow already offloaded")
	ErrNotFound   = errors.New("flow not found")
	ErrClosed     = errors.New("flower engine closed")
)

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

func isUnsupported(err error) bool { return errors.Is(err, ErrUnsupported) }

func isExhausted(err error) bool { return errors.Is(err, ErrResourceExhausted) }
