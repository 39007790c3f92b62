// Package adapter wires the binding layer into external monitoring
// surfaces.
package adapter

import (
	"fmt"
	"net/http"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/drm-plugin/internal/ipc"
	"github.com/srediag/drm-plugin/pkg/drm"
)

// NewHealthHandler builds a healthcheck handler: liveness tracks the
// plugin service sessions, readiness tracks whether the binding holds
// a live plugin.
func NewHealthHandler(hal *drm.CryptoHal, sessions ...*ipc.Session) healthcheck.Handler {
	h := healthcheck.NewHandler()
	if hal != nil {
		h.AddReadinessCheck("crypto-plugin", hal.InitCheck)
	}
	for i, s := range sessions {
		s := s
		h.AddLivenessCheck(fmt.Sprintf("plugin-session-%d", i), s.HealthCheck)
	}
	return h
}

// Handler adapts a healthcheck.Handler to http.Handler for mounting
// beside the metrics endpoint.
func Handler(h healthcheck.Handler) http.Handler { return h }
