package geolib

import (
	"encoding/json"
	"sync"
	"time"
)

// UsageStats collects per-backend counters for comparisons.
type UsageStats struct {
	Name string

	mutex         sync.Mutex
	lastUsed      time.Time
	successCount  uint64
	noDataCount   uint64
	errorCount    uint64
	disabledCount uint64
	totalTimeMs   int64
}

func (u *UsageStats) Used(result BackendResult) {
	now := time.Now()

	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.lastUsed = now
	u.totalTimeMs += result.FetchTimeMs

	switch result.Status {
	case StatusSuccess:
		u.successCount++
	case StatusNoData:
		u.noDataCount++
	case StatusDisabled:
		u.disabledCount++
	default:
		u.errorCount++
	}
}

func (u *UsageStats) MarshalJSON() ([]byte, error) {
	var lastUsedTime int64

	u.mutex.Lock()

	if !u.lastUsed.IsZero() {
		lastUsedTime = u.lastUsed.Unix()
	}

	total := u.successCount + u.noDataCount + u.errorCount + u.disabledCount
	averageTimeMs := float64(0)

	if total > 0 {
		averageTimeMs = float64(u.totalTimeMs) / float64(total)
	}

	rawStruct := struct {
		Name          string  `json:"name"`
		LastUsed      int64   `json:"lastUsed"`
		SuccessCount  uint64  `json:"successCount"`
		NoDataCount   uint64  `json:"noDataCount"`
		ErrorCount    uint64  `json:"errorCount"`
		DisabledCount uint64  `json:"disabledCount"`
		AverageTimeMs float64 `json:"averageTimeMs"`
	}{
		Name:          u.Name,
		LastUsed:      lastUsedTime,
		SuccessCount:  u.successCount,
		NoDataCount:   u.noDataCount,
		ErrorCount:    u.errorCount,
		DisabledCount: u.disabledCount,
		AverageTimeMs: averageTimeMs,
	}

	u.mutex.Unlock()

	return json.Marshal(&rawStruct)
}
