package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/jmylchreest/dashflow/internal/cache"
)

// CacheStatsHandler exposes per-tier cache occupancy and disk usage.
type CacheStatsHandler struct {
	Caches *cache.Caches
}

// TierStats is the occupancy of one cache tier.
type TierStats struct {
	MemoryEntries int   `json:"memory_entries"`
	MemoryBytes   int64 `json:"memory_bytes"`
	Files         int   `json:"files,omitempty"`
	FileBytes     int64 `json:"file_bytes,omitempty"`
}

// DiskStats describes the filesystem backing the hybrid cache directories.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// CacheStatsResponse is the cache stats payload.
type CacheStatsResponse struct {
	InitSegment TierStats  `json:"init_segment"`
	Manifest    TierStats  `json:"manifest"`
	Speedtest   TierStats  `json:"speedtest"`
	Extractor   TierStats  `json:"extractor"`
	Disk        *DiskStats `json:"disk,omitempty"`
}

// CacheStatsOutput is the output for the cache stats endpoint.
type CacheStatsOutput struct {
	Body CacheStatsResponse
}

// Register registers the cache stats route with the API.
func (h *CacheStatsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCacheStats",
		Method:      "GET",
		Path:        "/api/v1/cache/stats",
		Summary:     "Cache statistics",
		Description: "Returns occupancy of each cache tier and disk usage of the cache filesystem",
		Tags:        []string{"System"},
	}, h.GetStats)
}

// GetStats returns the current cache occupancy.
func (h *CacheStatsHandler) GetStats(ctx context.Context, _ *struct{}) (*CacheStatsOutput, error) {
	resp := CacheStatsResponse{
		InitSegment: tierStats(h.Caches.InitSegment.Stats()),
		Manifest:    tierStats(h.Caches.Manifest.Stats()),
		Speedtest:   tierStats(h.Caches.Speedtest.Stats()),
		Extractor:   tierStats(h.Caches.Extractor.Stats()),
	}

	// Disk usage is informational; a probe failure never fails the request.
	if usage, err := disk.UsageWithContext(ctx, h.Caches.InitSegment.Dir()); err == nil {
		resp.Disk = &DiskStats{
			Path:        usage.Path,
			TotalBytes:  usage.Total,
			FreeBytes:   usage.Free,
			UsedPercent: usage.UsedPercent,
		}
	}

	return &CacheStatsOutput{Body: resp}, nil
}

func tierStats(st cache.Stats) TierStats {
	return TierStats{
		MemoryEntries: st.MemoryEntries,
		MemoryBytes:   st.MemoryBytes,
		Files:         st.Files,
		FileBytes:     st.FileBytes,
	}
}
