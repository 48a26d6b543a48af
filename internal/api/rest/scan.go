package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ScanRequest struct {
	Subnet string `json:"subnet" binding:"required"`
	// Track persists and polls every miner found.
	Track bool `json:"track"`
}

type ScanResponse struct {
	Network    string            `json:"network"`
	Scanned    int               `json:"scanned"`
	Responding int               `json:"responding"`
	DurationMs int64             `json:"duration_ms"`
	Miners     []types.MinerInfo `json:"miners"`
	Tracked    int               `json:"tracked,omitempty"`
}

// POST /api/v1/scan
func (s *Server) scanNetwork(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCAN_400", "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	result, err := s.lm.Scanner().Scan(ctx, req.Subnet)
	if err != nil {
		if ctx.Err() != nil {
			c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("SCAN_503", "Scan aborted", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCAN_400", "Invalid subnet", err.Error()))
		return
	}

	resp := ScanResponse{
		Network:    result.Network,
		Scanned:    result.Scanned,
		Responding: result.Responding,
		DurationMs: result.Duration.Milliseconds(),
		Miners:     make([]types.MinerInfo, 0, len(result.Miners)),
	}

	for _, miner := range result.Miners {
		if req.Track {
			if err := s.lm.TrackMiner(ctx, miner); err != nil {
				s.logger.Warn("Failed to track scanned miner",
					zap.String("miner", miner.Address.String()),
					zap.Error(err))
			} else {
				resp.Tracked++
			}
		}
		resp.Miners = append(resp.Miners, s.minerInfo(miner))
	}

	c.JSON(http.StatusOK, resp)
}

// DELETE /api/v1/cache
func (s *Server) clearCache(c *gin.Context) {
	evicted := s.lm.ClearCache()
	c.JSON(http.StatusOK, gin.H{"evicted": evicted})
}
