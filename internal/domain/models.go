package domain

// ServiceHealth describes one dependency's health for /healthz.
type ServiceHealth struct {
	Name          string  `json:"name"`
	Status        string  `json:"status"` // healthy, degraded, unhealthy
	LatencyMs     int64   `json:"latency_ms"`
	UptimePercent float64 `json:"uptime_percent"`
	LastChecked   string  `json:"last_checked"`
}

// HealthStatus is the aggregate /healthz response.
type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// UsageMetrics is the snapshot returned by GET /v1/metrics/usage.
type UsageMetrics struct {
	TotalRequests   int64   `json:"total_requests"`
	ErrorRate       float64 `json:"error_rate"`
	StoreErrors     int64   `json:"store_errors"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	CreditAlerts    int64   `json:"credit_alerts"`
	ReportsComputed int64   `json:"reports_computed"`
	Period          string  `json:"period"`
}
