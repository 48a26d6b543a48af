package rest

import (
	"context"
	"net/http"

	"github.com/KevinKickass/OpenMinerCore/internal/devices"
	"github.com/KevinKickass/OpenMinerCore/internal/remote"
	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type FaultLightRequest struct {
	CredentialsRequest
	On *bool `json:"on" binding:"required"`
}

type MinerDetails struct {
	Miner    string            `json:"miner"`
	Model    string            `json:"model,omitempty"`
	Hostname string            `json:"hostname,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// POST /api/v1/miners/:host/fault-light
func (s *Server) setFaultLight(c *gin.Context) {
	miner, ok := s.minerParam(c)
	if !ok {
		return
	}

	var req FaultLightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "Invalid request body", err.Error()))
		return
	}

	if err := miner.FaultLight(c.Request.Context(), req.credentials(), *req.On); err != nil {
		s.writeMinerError(c, miner, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"miner":       miner.Address.String(),
		"fault_light": *req.On,
	})
}

// POST /api/v1/miners/:host/stop
func (s *Server) stopMining(c *gin.Context) {
	s.miningAction(c, "stop", (*devices.Miner).StopMining)
}

// POST /api/v1/miners/:host/resume
func (s *Server) resumeMining(c *gin.Context) {
	s.miningAction(c, "resume", (*devices.Miner).ResumeMining)
}

func (s *Server) miningAction(c *gin.Context, action string, run func(*devices.Miner, context.Context, *remote.Credentials) error) {
	miner, ok := s.minerParam(c)
	if !ok {
		return
	}

	var req CredentialsRequest
	if !bindOptional(c, &req) {
		return
	}

	if err := run(miner, c.Request.Context(), req.credentials()); err != nil {
		s.writeMinerError(c, miner, err)
		return
	}

	s.logger.Info("Miner action triggered",
		zap.String("miner", miner.Address.String()),
		zap.String("action", action))

	c.JSON(http.StatusAccepted, gin.H{
		"miner":  miner.Address.String(),
		"action": action,
	})
}

// GET /api/v1/miners/:host/details
// Teilfehler landen in "errors", die Antwort bleibt 200.
func (s *Server) getMinerDetails(c *gin.Context) {
	miner, ok := s.minerParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	details := MinerDetails{Miner: miner.Address.String()}
	errs := make(map[string]string)

	if model, err := miner.Model(ctx); err != nil {
		errs["model"] = err.Error()
	} else {
		details.Model = model
	}

	if hostname, err := miner.Hostname(ctx, nil); err != nil {
		errs["hostname"] = err.Error()
	} else {
		details.Hostname = hostname
	}

	if len(errs) > 0 {
		details.Errors = errs
	}
	c.JSON(http.StatusOK, details)
}

// GET /api/v1/miners/:host/config
func (s *Server) getMinerConfig(c *gin.Context) {
	miner, ok := s.minerParam(c)
	if !ok {
		return
	}

	content, err := miner.ReadConfig(c.Request.Context(), nil)
	if err != nil {
		s.writeMinerError(c, miner, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"miner":   miner.Address.String(),
		"path":    miner.Profile.SSH.ConfigPath,
		"content": string(content),
	})
}
