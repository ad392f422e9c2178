package usecase

import (
	"encoding/json"

	"github.com/devi-sudo/zbox/internal/domain"
)

func decodeWindow(raw []byte) (*domain.AccessWindow, error) {
	var w domain.AccessWindow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func decodeStats(raw []byte) (*domain.ReferrerStats, error) {
	var s domain.ReferrerStats
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
