package main

import (
	"net/http"

	"deck/internal/scanner"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type ScannerService struct {
	scanner *scanner.Service
}

func NewScannerService(scanService *scanner.Service) *ScannerService {
	return &ScannerService{scanner: scanService}
}

func (s *ScannerService) TriggerFullScan() (scanner.Status, error) {
	if err := s.scanner.TriggerFullScan(); err != nil {
		return scanner.Status{}, err
	}
	return s.scanner.GetStatus(), nil
}

func (s *ScannerService) GetStatus() scanner.Status {
	return s.scanner.GetStatus()
}

func (s *ScannerService) routes(r *mux.Router, logger *zap.Logger) {
	r.HandleFunc("/scan", wrap(logger, func(*http.Request) (any, error) {
		return s.TriggerFullScan()
	})).Methods(http.MethodPost)

	r.HandleFunc("/scan", wrap(logger, func(*http.Request) (any, error) {
		return s.GetStatus(), nil
	})).Methods(http.MethodGet)
}
