package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ilview/internal/shared/util"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
	Memory     util.MemoryStats  `json:"memory"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
		Memory:     util.ReadMemoryStats(),
	}

	status.Components["assemblies"] = fmt.Sprintf("ok (%d loaded)", s.app.Cache.Len())
	status.Components["resolver"] = strings.Join(s.app.Chain.Strategies(), " > ")

	if s.app.Disassembler.Busy() {
		status.Components["disassembler"] = "busy"
	} else {
		status.Components["disassembler"] = "idle"
	}

	if store := s.app.refStore; store != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Components["refpaths"] = "error: " + err.Error()
		} else {
			status.Components["refpaths"] = "ok"
		}
	} else if s.app.Config().DB.Enabled {
		status.Status = "degraded"
		status.Components["refpaths"] = "missing but enabled in config"
	}

	return status
}
