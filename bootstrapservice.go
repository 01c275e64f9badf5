package main

import (
	"net/http"

	"deck/internal/player"
	"deck/internal/queue"
	"deck/internal/scanner"
	"deck/internal/settings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StartupSnapshot is everything a client needs to render before the first
// websocket event arrives.
type StartupSnapshot struct {
	QueueState   queue.State       `json:"queueState"`
	PlayerState  player.State      `json:"playerState"`
	PreviewState player.State      `json:"previewState"`
	ScanStatus   scanner.Status    `json:"scanStatus"`
	Settings     settings.Settings `json:"settings"`
	Devices      []player.Device   `json:"devices"`
}

type BootstrapService struct {
	queue    *queue.Service
	engine   *player.Engine
	scanner  *scanner.Service
	settings *settings.Service
	logger   *zap.Logger
}

func NewBootstrapService(
	queueService *queue.Service,
	engine *player.Engine,
	scannerService *scanner.Service,
	settingsService *settings.Service,
	logger *zap.Logger,
) *BootstrapService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BootstrapService{
		queue:    queueService,
		engine:   engine,
		scanner:  scannerService,
		settings: settingsService,
		logger:   logger,
	}
}

func (s *BootstrapService) GetInitialState() StartupSnapshot {
	devices, err := s.engine.Devices()
	if err != nil {
		s.logger.Warn("list output devices", zap.Error(err))
		devices = []player.Device{}
	}

	return StartupSnapshot{
		QueueState:   s.queue.GetState(),
		PlayerState:  s.engine.Main().State(),
		PreviewState: s.engine.Preview().State(),
		ScanStatus:   s.scanner.GetStatus(),
		Settings:     s.settings.Get(),
		Devices:      devices,
	}
}

func (s *BootstrapService) routes(r *mux.Router, logger *zap.Logger) {
	r.HandleFunc("/bootstrap", wrap(logger, func(*http.Request) (any, error) {
		return s.GetInitialState(), nil
	})).Methods(http.MethodGet)
}
