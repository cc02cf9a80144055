package dto

import "time"

// SystemMetrics is a lightweight counter snapshot for administrators.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	LedgerEntriesPosted      uint64    `json:"ledgerEntriesPosted"`
	LedgerRejections         uint64    `json:"ledgerRejections"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
