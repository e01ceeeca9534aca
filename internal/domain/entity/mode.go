package entity

import "fmt"

// Mode is the single active view of a session.
type Mode int

const (
	ModeIdle Mode = iota
	ModeUploaded
	ModeAnnotating
	ModeBeVView
	ModeResults
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeUploaded:
		return "uploaded"
	case ModeAnnotating:
		return "annotating"
	case ModeBeVView:
		return "bev"
	case ModeResults:
		return "results"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	for candidate := ModeIdle; candidate <= ModeResults; candidate++ {
		if candidate.String() == string(b) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", b)
}

// VisibleSurface is the surface the operator sees in this mode.
func (m Mode) VisibleSurface() Surface {
	if m == ModeBeVView {
		return SurfaceBEV
	}
	return SurfaceVideo
}

// acceptsPoints reports whether pointer clicks place calibration points.
func (m Mode) acceptsPoints() bool {
	return m == ModeAnnotating || m == ModeBeVView
}

// showsVideo reports whether the video surface is the one on screen.
func (m Mode) showsVideo() bool {
	return m == ModeUploaded || m == ModeAnnotating || m == ModeResults
}
