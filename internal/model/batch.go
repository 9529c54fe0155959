package model

// MethodCounts is the per-strategy breakdown of a discovery batch.
type MethodCounts struct {
	HotGames  int `json:"hot_games"`
	IDScan    int `json:"id_scan"`
	Refresh   int `json:"refresh"`
	Reclaimed int `json:"reclaimed"`
}

// BatchLimits records the configuration a discovery run used.
type BatchLimits struct {
	HotLimit            int `json:"hot_limit"`
	ScanRangeSize       int `json:"scan_range_size"`
	ScanBatchSize       int `json:"scan_batch_size"`
	RefreshDays         int `json:"refresh_days"`
	RefreshLimit        int `json:"refresh_limit"`
	NewIDsLimit         int `json:"new_ids_limit"`
	ReclaimAfterMinutes int `json:"reclaim_after_minutes"`
}

// ScanWindow is the half-open id range a discovery run scanned.
type ScanWindow struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// BatchDescriptor is the immutable output of one discovery run.
type BatchDescriptor struct {
	Timestamp        string       `json:"timestamp"`
	GameIDs          []int64      `json:"game_ids"`
	TotalCount       int          `json:"total_count"`
	DiscoveryMethods MethodCounts `json:"discovery_methods"`
	Limits           BatchLimits  `json:"limits"`
	ScanWindow       ScanWindow   `json:"scan_window"`
}
