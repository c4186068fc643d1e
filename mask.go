package reactor

import (
	"strings"
)

// IOMask is a set of readiness conditions.
type IOMask uint32

const (
	// MaskIn indicates the descriptor is readable.
	MaskIn IOMask = 1 << iota
	// MaskOut indicates the descriptor is writable.
	MaskOut
	// MaskErr indicates an error condition.
	MaskErr
	// MaskHup indicates the peer hung up.
	MaskHup
)

func (m IOMask) String() string {
	if m == 0 {
		return "0"
	}
	var parts []string
	for _, v := range [...]struct {
		bit  IOMask
		name string
	}{
		{MaskIn, "in"},
		{MaskOut, "out"},
		{MaskErr, "err"},
		{MaskHup, "hup"},
	} {
		if m&v.bit != 0 {
			parts = append(parts, v.name)
		}
	}
	return strings.Join(parts, "|")
}
