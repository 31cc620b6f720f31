package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/systemaudit/winstaller/internal/catalog"
	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/notify"
	"github.com/systemaudit/winstaller/internal/users"
)

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type registerRequest struct {
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password" binding:"required"`
	ActivationCode string `json:"activation_code" binding:"required"`
}

func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username, password, and activation_code are required"})
			return
		}
		u, err := s.users.Register(req.Username, req.Password, req.ActivationCode)
		switch {
		case errors.Is(err, users.ErrBadActivation):
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid activation code"})
		case errors.Is(err, users.ErrExists):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusCreated, gin.H{"id": u.ID, "username": u.Username})
		}
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		u, err := s.users.Authenticate(req.Username, req.Password)
		switch {
		case errors.Is(err, users.ErrBadCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		case errors.Is(err, users.ErrBanned):
			c.JSON(http.StatusForbidden, gin.H{"error": "account is banned"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		token, expires, err := s.issueToken(u)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_at": expires.UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) handleProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		c.JSON(http.StatusOK, gin.H{
			"id":               u.ID,
			"username":         u.Username,
			"status":           u.Status,
			"is_admin":         u.IsAdmin,
			"chat_linked":      u.ChatID != "",
			"total_installs":   u.TotalInstalls,
			"success_installs": u.SuccessInstalls,
			"failed_installs":  u.FailedInstalls,
		})
	}
}

func (s *Server) handleOSList() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := catalog.List()
		out := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, gin.H{"code": e.Code, "name": e.Name, "category": e.Category})
		}
		c.JSON(http.StatusOK, gin.H{"os_list": out})
	}
}

type installRequest struct {
	IP          string `json:"ip" binding:"required"`
	SSHPassword string `json:"ssh_password" binding:"required"`
	SSHUser     string `json:"ssh_user"`
	OSCode      string `json:"os_code" binding:"required"`
	RDPPassword string `json:"rdp_password"`
}

func (s *Server) handleInstall() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req installRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ip, ssh_password, and os_code are required"})
			return
		}
		if !installer.ValidIP(req.IP) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid IP address format"})
			return
		}
		if req.RDPPassword != "" && !installer.ValidRDPPassword(req.RDPPassword) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "RDP password must be 8+ chars with uppercase, lowercase, and number"})
			return
		}
		u := currentUser(c)

		inst, _, err := s.inst.Start(installer.Request{
			UserID:      u.ID,
			IP:          req.IP,
			SSHPassword: req.SSHPassword,
			SSHUser:     req.SSHUser,
			OSCode:      req.OSCode,
			RDPPassword: req.RDPPassword,
			Source:      notify.SourceAPI,
		})
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"install_id": inst.ID,
			"status":     inst.Status,
		})
	}
}

func (s *Server) handleInstallGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		inst, err := s.ledger.Get(c.Param("id"))
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "installation not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if inst.UserID != u.ID && !u.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your installation"})
			return
		}
		c.JSON(http.StatusOK, installJSON(inst, true))
	}
}

func (s *Server) handleInstallList() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		insts, err := s.ledger.ListByOwner(u.ID, c.Query("status"), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"installations": installListJSON(insts)})
	}
}

func (s *Server) handleInstallActive() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		insts, err := s.ledger.ActiveByOwner(u.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"installations": installListJSON(insts)})
	}
}

func (s *Server) handleInstallLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		inst, err := s.ledger.Get(c.Param("id"))
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "installation not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if inst.UserID != u.ID && !u.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your installation"})
			return
		}
		logs := make([]gin.H, 0, len(inst.Logs))
		for _, lg := range inst.Logs {
			logs = append(logs, gin.H{
				"timestamp": lg.Timestamp.UTC().Format(time.RFC3339),
				"message":   lg.Message,
			})
		}
		c.JSON(http.StatusOK, gin.H{"install_id": inst.ID, "logs": logs})
	}
}

// installJSON renders one record. The RDP payload is attached only when
// withRDP is set, and its port is always the fixed RDP port.
func installJSON(inst *models.Installation, withRDP bool) gin.H {
	out := gin.H{
		"install_id":   inst.ID,
		"status":       inst.Status,
		"ip":           inst.IP,
		"os_code":      inst.OSCode,
		"os_name":      inst.OSName,
		"boot_mode":    inst.BootMode,
		"current_step": inst.CurrentStep,
		"start_time":   inst.StartTime.UTC().Format(time.RFC3339),
		"last_update":  inst.LastUpdate.UTC().Format(time.RFC3339),
	}
	if inst.Error != "" {
		out["error"] = inst.Error
	}
	if inst.EndTime != nil {
		out["end_time"] = inst.EndTime.UTC().Format(time.RFC3339)
	}
	if withRDP {
		if info, err := models.ParseRDPInfo(inst.RDPInfo); err == nil && info != nil {
			out["rdp"] = gin.H{
				"ip":       info.IP,
				"port":     info.Port,
				"username": info.Username,
				"password": info.Password,
			}
		}
	}
	return out
}

func installListJSON(insts []models.Installation) []gin.H {
	out := make([]gin.H, 0, len(insts))
	for i := range insts {
		out = append(out, installJSON(&insts[i], false))
	}
	return out
}
