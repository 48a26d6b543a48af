package rest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenMinerCore/internal/devices"
	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"github.com/KevinKickass/OpenMinerCore/internal/remote"
	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AddMinerRequest struct {
	Address string `json:"address" binding:"required"`
}

type CommandRequest struct {
	Command      string `json:"command" binding:"required"`
	Parameter    any    `json:"parameter"`
	IgnoreErrors bool   `json:"ignore_errors"`
}

type MulticommandRequest struct {
	Commands []string `json:"commands" binding:"required,min=1"`
}

// CredentialsRequest overrides the family's default SSH credentials when set.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Port     int    `json:"port"`
}

func (r CredentialsRequest) credentials() *remote.Credentials {
	if r.Username == "" {
		return nil
	}
	return &remote.Credentials{
		Username: r.Username,
		Password: r.Password,
		Port:     r.Port,
	}
}

type RebootRequest struct {
	CredentialsRequest
	RestartBackend bool `json:"restart_backend"`
}

type CommandResponse struct {
	Miner    string            `json:"miner"`
	Command  string            `json:"command"`
	Response minerapi.Response `json:"response"`
	Errors   string            `json:"errors,omitempty"`
}

// GET /api/v1/miners
func (s *Server) listMiners(c *gin.Context) {
	miners := s.lm.Resolver().List()

	infos := make([]types.MinerInfo, 0, len(miners))
	for _, miner := range miners {
		infos = append(infos, s.minerInfo(miner))
	}

	c.JSON(http.StatusOK, gin.H{
		"miners": infos,
		"count":  len(infos),
	})
}

// POST /api/v1/miners
func (s *Server) addMiner(c *gin.Context) {
	var req AddMinerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "Invalid request body", err.Error()))
		return
	}

	addr, err := minerapi.ParseAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "Invalid address", err.Error()))
		return
	}

	miner := s.lm.Resolver().Resolve(c.Request.Context(), addr)
	if miner == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("MINER_404", devices.ErrUnresolved.Error(), addr.String()))
		return
	}

	if err := s.lm.TrackMiner(c.Request.Context(), miner); err != nil {
		s.logger.Error("Failed to track miner",
			zap.String("miner", addr.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("MINER_500", "Failed to track miner", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, s.minerInfo(miner))
}

// GET /api/v1/miners/:host
// ?resolve=true probes addresses that are not cached yet.
func (s *Server) getMiner(c *gin.Context) {
	addr, ok := s.addressParam(c)
	if !ok {
		return
	}

	miner, cached := s.lm.Resolver().Lookup(addr)
	if !cached && c.Query("resolve") == "true" {
		miner = s.lm.Resolver().Resolve(c.Request.Context(), addr)
	}
	if miner == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("MINER_404", "Miner not found", addr.String()))
		return
	}

	c.JSON(http.StatusOK, s.minerInfo(miner))
}

// DELETE /api/v1/miners/:host
func (s *Server) deleteMiner(c *gin.Context) {
	addr, ok := s.addressParam(c)
	if !ok {
		return
	}

	if err := s.lm.UntrackMiner(c.Request.Context(), addr); err != nil {
		if errors.Is(err, devices.ErrUnresolved) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("MINER_404", "Miner not found", addr.String()))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("MINER_500", "Failed to delete miner", err.Error()))
		return
	}

	c.Status(http.StatusNoContent)
}

// POST /api/v1/miners/:host/command
func (s *Server) sendCommand(c *gin.Context) {
	miner, ok := s.minerParam(c)
	if !ok {
		return
	}

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "Invalid request body", err.Error()))
		return
	}

	cmd := minerapi.Command{Name: req.Command, Parameter: normalizeParameter(req.Parameter)}
	var opts []minerapi.SendOption
	if req.IgnoreErrors {
		opts = append(opts, minerapi.IgnoreErrors())
	}

	resp, err := miner.API.SendCommand(c.Request.Context(), cmd, opts...)
	if err != nil {
		s.writeMinerError(c, miner, err)
		return
	}

	c.JSON(http.StatusOK, CommandResponse{
		Miner:    miner.Address.String(),
		Command:  req.Command,
		Response: resp,
	})
}

// POST /api/v1/miners/:host/multicommand
func (s *Server) sendMulticommand(c *gin.Context) {
	miner, ok := s.minerParam(c)
	if !ok {
		return
	}

	var req MulticommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "Invalid request body", err.Error()))
		return
	}

	resp, err := miner.API.Multicommand(c.Request.Context(), req.Commands...)
	if err != nil && len(resp) == 0 {
		s.writeMinerError(c, miner, err)
		return
	}

	out := CommandResponse{
		Miner:    miner.Address.String(),
		Command:  strings.Join(req.Commands, minerapi.CommandSeparator),
		Response: resp,
	}
	if err != nil {
		// Teilweise erfolgreich nach Aufteilung
		out.Errors = err.Error()
	}
	c.JSON(http.StatusOK, out)
}

// POST /api/v1/miners/:host/reboot
func (s *Server) rebootMiner(c *gin.Context) {
	miner, ok := s.minerParam(c)
	if !ok {
		return
	}

	var req RebootRequest
	if !bindOptional(c, &req) {
		return
	}
	creds := req.credentials()

	ctx := c.Request.Context()
	var err error
	action := "reboot"
	if req.RestartBackend {
		action = "restart"
		err = miner.RestartBackend(ctx, creds)
	} else {
		err = miner.Reboot(ctx, creds)
	}
	if err != nil {
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

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength <= 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "Invalid request body", err.Error()))
		return false
	}
	return true
}

func (s *Server) addressParam(c *gin.Context) (minerapi.Address, bool) {
	addr, err := minerapi.ParseAddress(c.Param("host"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "Invalid address", err.Error()))
		return minerapi.Address{}, false
	}
	return addr, true
}

// minerParam returns the cached miner for :host, resolving it on first use.
func (s *Server) minerParam(c *gin.Context) (*devices.Miner, bool) {
	addr, ok := s.addressParam(c)
	if !ok {
		return nil, false
	}

	miner := s.lm.Resolver().Resolve(c.Request.Context(), addr)
	if miner == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("MINER_404", devices.ErrUnresolved.Error(), addr.String()))
		return nil, false
	}
	return miner, true
}

func (s *Server) minerInfo(miner *devices.Miner) types.MinerInfo {
	info := miner.Info()
	if poller, ok := s.lm.Resolver().Poller(miner.Address); ok {
		if last, ok := poller.LastResult(); ok {
			info.LastPollAt = last.At
			if last.Err != nil {
				info.LastPollErr = last.Err.Error()
			}
		}
	}
	return info
}

func (s *Server) writeMinerError(c *gin.Context, miner *devices.Miner, err error) {
	var cmdErr *minerapi.CommandError
	var decodeErr *minerapi.DecodeError

	switch {
	case errors.Is(err, minerapi.ErrNoCommands):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MINER_400", "No supported commands", err.Error()))
	case errors.As(err, &cmdErr):
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("MINER_422", "Miner rejected command", gin.H{
			"command": cmdErr.Command,
			"message": cmdErr.Message,
		}))
	case devices.IsNotSupported(err):
		c.JSON(http.StatusNotImplemented, types.NewErrorResponse("MINER_501", "Not supported by this firmware", err.Error()))
	case errors.Is(err, minerapi.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, types.NewErrorResponse("MINER_504", "Miner did not answer in time", err.Error()))
	case errors.Is(err, minerapi.ErrConnection), errors.As(err, &decodeErr):
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("MINER_502", "Miner communication failed", err.Error()))
	default:
		s.logger.Error("Miner request failed",
			zap.String("miner", miner.Address.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("MINER_500", "Miner request failed", err.Error()))
	}
}

// normalizeParameter turns integral JSON numbers back into integers.
func normalizeParameter(p any) any {
	if f, ok := p.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return p
}
