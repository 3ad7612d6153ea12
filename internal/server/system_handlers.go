package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/atmx/atmx/internal/database"
	"github.com/atmx/atmx/internal/modules/events"
	"github.com/atmx/atmx/internal/scheduler"
)

// SystemHandlers handles health and system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	ledgerDB    *database.DB
	registryDB  *database.DB
	cacheDB     *database.DB
	hub         *events.Hub
	scheduler   *scheduler.Scheduler
	cronJob     scheduler.Job
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, ledgerDB, registryDB, cacheDB *database.DB, hub *events.Hub, sched *scheduler.Scheduler, cronJob scheduler.Job) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		ledgerDB:    ledgerDB,
		registryDB:  registryDB,
		cacheDB:     cacheDB,
		hub:         hub,
		scheduler:   sched,
		cronJob:     cronJob,
	}
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	UptimeSeconds   int64              `json:"uptime_seconds"`
	CPUPercent      float64            `json:"cpu_percent"`
	RAMPercent      float64            `json:"ram_percent"`
	Contracts       int                `json:"contracts"`
	Settlements     int                `json:"settlements"`
	ActiveWebhooks  int                `json:"active_webhooks"`
	EventClients    int                `json:"event_clients"`
	DatabaseSizesMB map[string]float64 `json:"database_sizes_mb"`
}

// HandleHealth reports liveness: all three databases must answer a ping.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	databases := map[string]string{}

	for _, db := range []*database.DB{h.ledgerDB, h.registryDB, h.cacheDB} {
		if err := db.QuickCheck(r.Context()); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			databases[db.Name()] = "unreachable"
			status = "degraded"
		} else {
			databases[db.Name()] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"databases": databases,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		UptimeSeconds:   int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:      cpuPercent,
		RAMPercent:      ramPercent,
		Contracts:       h.countRows(h.ledgerDB, "contracts"),
		Settlements:     h.countRows(h.ledgerDB, "settlement_records"),
		ActiveWebhooks:  h.countWhere(h.registryDB, "webhooks", "active = 1"),
		EventClients:    h.hub.ClientCount(),
		DatabaseSizesMB: h.databaseSizes(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleTriggerSettlementCron runs the settlement cron immediately instead of
// waiting for the next scheduled tick.
func (h *SystemHandlers) HandleTriggerSettlementCron(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Msg("Manual settlement cron trigger")

	if err := h.scheduler.RunNow(h.cronJob); err != nil {
		h.log.Error().Err(err).Msg("Failed to trigger settlement cron")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Settlement cron triggered",
	})
}

// getSystemStats calculates CPU and RAM usage percentages. A 100ms sample
// keeps the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) countRows(db *database.DB, table string) int {
	return h.countWhere(db, table, "1 = 1")
}

func (h *SystemHandlers) countWhere(db *database.DB, table, where string) int {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM " + table + " WHERE " + where).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Str("table", table).Msg("Failed to count rows")
	}
	return count
}

func (h *SystemHandlers) databaseSizes() map[string]float64 {
	sizes := map[string]float64{}
	for _, db := range []*database.DB{h.ledgerDB, h.registryDB, h.cacheDB} {
		if info, err := os.Stat(db.Path()); err == nil {
			sizes[db.Name()] = float64(info.Size()) / 1024 / 1024
		}
	}
	return sizes
}
