package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenMinerCore/internal/devices"
	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	resolver := s.lm.Resolver()
	loader := resolver.Profiles()

	profiles := make([]types.MinerProfile, 0)
	for _, family := range loader.Families() {
		profile, err := loader.Load(family)
		if err != nil {
			s.logger.Warn("Skipping invalid profile",
				zap.String("family", family),
				zap.Error(err))
			continue
		}
		profiles = append(profiles, redactProfile(profile))
	}

	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"markers":  resolver.Registry().Markers(),
	})
}

// GET /api/v1/profiles/:family
func (s *Server) getProfile(c *gin.Context) {
	family := c.Param("family")

	profile, err := s.lm.Resolver().Profiles().Load(family)
	if err != nil {
		if errors.Is(err, devices.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("PROFILE_404", "Profile not found", family))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROFILE_500", "Failed to load profile", err.Error()))
		return
	}

	c.JSON(http.StatusOK, redactProfile(profile))
}

// redactProfile copies the profile without the default SSH password.
func redactProfile(profile *types.MinerProfile) types.MinerProfile {
	out := *profile
	out.API.Commands = append([]string(nil), profile.API.Commands...)
	out.SSH.Password = ""
	return out
}

// PUT /api/v1/profiles/:family
// Registers a profile in memory; new resolutions of the family use it.
func (s *Server) putProfile(c *gin.Context) {
	family := c.Param("family")

	var profile types.MinerProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROFILE_400", "Invalid request body", err.Error()))
		return
	}
	if profile.Profile.Family == "" {
		profile.Profile.Family = family
	}
	if profile.Profile.Family != family {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROFILE_400", "Family does not match path", profile.Profile.Family))
		return
	}

	if err := s.lm.Resolver().Profiles().Register(&profile); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROFILE_400", "Invalid profile", err.Error()))
		return
	}

	s.logger.Info("Profile registered",
		zap.String("family", family),
		zap.Int("commands", len(profile.API.Commands)))

	c.JSON(http.StatusOK, redactProfile(&profile))
}
