package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coopportal/accessgw/internal/server/middleware"
	"github.com/coopportal/accessgw/internal/session"
	"github.com/coopportal/accessgw/internal/userstore"
)

// registerRoutes mounts the portal surface. Protection is enforced entirely
// by the access gate in front; handlers here only render and mutate state.
func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.GET("/", s.page("home"))
	s.engine.GET("/about/", s.page("about"))
	s.engine.GET("/download/", s.page("download"))
	s.engine.GET("/access-denied/", s.page("access_denied"))

	s.engine.GET("/login/", s.page("login"))
	s.engine.POST("/login/", s.limiter.Middleware(), s.handleLogin)
	s.engine.GET("/logout/", s.handleLogout)
	s.engine.POST("/logout/", s.handleLogout)

	s.engine.GET("/verify/", s.page("verify"))
	s.engine.POST("/verify/confirm/", s.handleVerifyConfirm)

	s.engine.GET("/dashboard/", s.page("dashboard"))
	s.engine.GET("/members/", s.page("members"))
	s.engine.GET("/finances/", s.page("finances"))
	s.engine.GET("/communications/", s.page("communications"))
	s.engine.GET("/databank/", s.page("databank"))
	s.engine.GET("/events/", s.page("events"))
	s.engine.GET("/account_management/", s.page("account_management"))

	s.engine.GET("/account_management/api/profile/", s.handleProfile)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Not found",
		})
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// page returns a handler rendering one portal page. Queued notices are
// drained into the response; the page is their one chance to be seen.
func (s *Server) page(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := s.sessions.Load(c)

		body := gin.H{"page": name}
		if st.IsAuthenticated() {
			body["user_id"] = st.UserID
		}
		if st.HasFlashes() {
			body["notices"] = st.DrainFlashes()
			if err := s.sessions.Save(c, st); err != nil {
				s.logger.Warn("failed to clear notices", zap.Error(err))
			}
		}

		c.JSON(http.StatusOK, body)
	}
}

// handleLogin authenticates the posted credentials and promotes the session.
func (s *Server) handleLogin(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")

	user, err := s.users.Authenticate(c.Request.Context(), email, password)
	switch {
	case err == nil:
	case errors.Is(err, userstore.ErrInvalidCredentials), errors.Is(err, userstore.ErrNotFound):
		st := s.sessions.Load(c)
		st.PushFlash(session.FlashError, "Invalid email or password.")
		if err := s.sessions.Save(c, st); err != nil {
			s.logger.Warn("failed to save login notice", zap.Error(err))
		}
		c.Redirect(http.StatusFound, s.cfg.Paths.Login)
		return
	default:
		s.logger.Error("login failed, user store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "Login is temporarily unavailable. Please try again later.",
		})
		return
	}

	if !user.IsActive {
		st := s.sessions.Load(c)
		st.PushFlash(session.FlashError, "Your account has been deactivated. Please contact the cooperative board.")
		if err := s.sessions.Save(c, st); err != nil {
			s.logger.Warn("failed to save login notice", zap.Error(err))
		}
		c.Redirect(http.StatusFound, s.cfg.Paths.AccessDenied)
		return
	}

	st := s.sessions.Load(c)

	if user.SecondFactor {
		// Password accepted but the session stays anonymous until the
		// verification code is confirmed.
		st.StartVerification(user.ID)
		if err := s.sessions.Rotate(c, st); err != nil {
			s.logger.Error("session rotation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "Login failed. Please try again.",
			})
			return
		}
		c.Redirect(http.StatusFound, "/verify/")
		return
	}

	st.Authenticate(user.ID, user.Role)
	st.CurrentPage = s.cfg.Paths.Dashboard

	// A fresh id on privilege change prevents session fixation.
	if err := s.sessions.Rotate(c, st); err != nil {
		s.logger.Error("session rotation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Login failed. Please try again.",
		})
		return
	}

	s.logger.Info("login",
		zap.Int64("user_id", user.ID),
		zap.String("role", user.Role),
		zap.String("request_id", middleware.GetRequestID(c)),
	)
	c.Redirect(http.StatusFound, s.cfg.Paths.Dashboard)
}

// handleLogout flushes the session and returns to the home page.
func (s *Server) handleLogout(c *gin.Context) {
	if err := s.sessions.Flush(c); err != nil {
		s.logger.Warn("logout flush failed", zap.Error(err))
	}
	c.Redirect(http.StatusFound, s.cfg.Paths.Home)
}

// handleVerifyConfirm completes a pending verification flow. Code delivery
// and checking live in the verification backend; this handler promotes the
// session once the posted code is accepted.
func (s *Server) handleVerifyConfirm(c *gin.Context) {
	st := s.sessions.Load(c)
	if st.PendingUserID == 0 {
		c.Redirect(http.StatusFound, s.cfg.Paths.Login)
		return
	}

	if c.PostForm("code") == "" {
		st.PushFlash(session.FlashError, "Please enter the verification code.")
		if err := s.sessions.Save(c, st); err != nil {
			s.logger.Warn("failed to save verification notice", zap.Error(err))
		}
		c.Redirect(http.StatusFound, "/verify/")
		return
	}

	user, err := s.users.ByID(c.Request.Context(), st.PendingUserID)
	if err != nil {
		st = session.State{}
		st.PushFlash(session.FlashError, "Verification failed. Please log in again.")
		if err := s.sessions.Save(c, st); err != nil {
			s.logger.Warn("failed to save verification notice", zap.Error(err))
		}
		c.Redirect(http.StatusFound, s.cfg.Paths.Login)
		return
	}

	st.Authenticate(user.ID, user.Role)
	st.CurrentPage = s.cfg.Paths.Dashboard
	if err := s.sessions.Rotate(c, st); err != nil {
		s.logger.Error("session rotation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Verification failed. Please try again.",
		})
		return
	}

	c.Redirect(http.StatusFound, s.cfg.Paths.Dashboard)
}

// handleProfile returns the authenticated user's profile.
func (s *Server) handleProfile(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusForbidden, gin.H{
			"status":  "error",
			"message": "Authentication required",
		})
		return
	}

	user, err := s.users.ByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "Profile is temporarily unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  user.Role,
	})
}
