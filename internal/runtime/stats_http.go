package runtime

import (
	"net/http"

	"github.com/drblury/busworker/internal/runtime/jsoncodec"
)

// StatsPath serves the handler statistics next to /metrics.
const StatsPath = "/api/handlers"

// BusStats is the body served on StatsPath.
type BusStats struct {
	Handlers []HandlerStats        `json:"handlers"`
	Queues   map[string]QueueStats `json:"queues"`
}

// Stats returns the current handler and side-queue statistics.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Handlers: b.stats.snapshot(),
		Queues:   b.queues.Snapshot(),
	}
}

func (b *Bus) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, b.Stats()); err != nil {
		b.logger.Error("Failed to encode handler stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
