package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetops/patchflow/internal/api/dto"
	"github.com/fleetops/patchflow/internal/domain"
)

// RunDiscovery handles POST /api/v1/discovery/run
// Performs one discovery cycle and replaces the stored software inventory
// with the cycle's matched entries.
func (h *PatchHandler) RunDiscovery(c *gin.Context) {
	started := time.Now()

	report, err := h.discovery.Reconcile(c.Request.Context())
	if err != nil {
		h.logger.Error("Discovery cycle failed", slog.String("error", err.Error()))

		if domain.KindOf(err) == domain.KindDiscoveryUnavailable {
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Discovery backend unavailable",
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Discovery cycle failed",
		})
		return
	}

	if err := h.storage.ReplaceInventory(c.Request.Context(), report.Matched); err != nil {
		h.logger.Error("Failed to store reconciled inventory", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store reconciled inventory",
		})
		return
	}

	unmatched := make([]dto.UnmatchedEntryDTO, 0, len(report.Unmatched))
	for _, entry := range report.Unmatched {
		unmatched = append(unmatched, dto.UnmatchedEntryDTO{
			Computer:     entry.Computer,
			SoftwareName: entry.SoftwareName,
		})
	}

	c.JSON(http.StatusOK, dto.DiscoveryRunResponse{
		MachinesFound:    report.MachinesFound,
		EntriesFound:     report.EntriesFound,
		Matched:          len(report.Matched),
		Unmatched:        len(report.Unmatched),
		UnmatchedEntries: unmatched,
		StoredEntries:    len(report.Matched),
		DurationMs:       time.Since(started).Milliseconds(),
	})
}
