package usecase

import (
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
)

// PairView is a committed pair with its label and derived scale.
type PairView struct {
	entity.PointPair
	Label          string  `json:"label"`
	PixelLength    float64 `json:"pixel_length"`
	MetersPerPixel float64 `json:"meters_per_pixel"`
}

// SessionView is what the operator sees of a session.
type SessionView struct {
	entity.Session
	FrameNumber      int        `json:"frame_number"`
	AwaitingDistance bool       `json:"awaiting_distance"`
	Pairs            []PairView `json:"pairs"`
	MetersPerPixel   float64    `json:"meters_per_pixel"`
	OverlayRunning   bool       `json:"overlay_running"`
	HasBEVImage      bool       `json:"has_bev_image"`
}

func newSessionView(s entity.Session, overlayRunning, hasBEV bool) SessionView {
	visible := s.Calibration.OnSurface(s.Mode.VisibleSurface())
	pairs := make([]PairView, 0, visible.Len())
	for i, pp := range visible.Pairs {
		pairs = append(pairs, PairView{
			PointPair:      pp,
			Label:          overlay.LineLabel(i+1, pp.Distance, true),
			PixelLength:    pp.PixelLength(),
			MetersPerPixel: pp.MetersPerPixel(),
		})
	}
	return SessionView{
		Session:          s,
		FrameNumber:      s.FrameNumber(),
		AwaitingDistance: s.AwaitingDistance(),
		Pairs:            pairs,
		MetersPerPixel:   visible.MetersPerPixel(),
		OverlayRunning:   overlayRunning,
		HasBEVImage:      hasBEV,
	}
}
