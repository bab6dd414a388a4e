package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vutlhe160502tb/ToolAI-Render/pkg/qrpay"
	"github.com/vutlhe160502tb/ToolAI-Render/pkg/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run boots the session gateway using the supplied configuration.
func Run(ctx context.Context, cfg Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	accountClient, err := session.NewAccountClient(cfg.BackendBaseURL, session.WithAccountLogger(logger))
	if err != nil {
		return err
	}
	pipeline, err := session.NewPipeline(accountClient, session.WithPipelineLogger(logger))
	if err != nil {
		return err
	}
	codec, err := session.NewCodec([]byte(cfg.SessionSigningKey), cfg.SessionIssuer)
	if err != nil {
		return err
	}
	orders, err := qrpay.NewOrderClient(cfg.BackendBaseURL)
	if err != nil {
		return err
	}

	server := NewServer(cfg, pipeline, codec, orders, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	})
	return group.Wait()
}

// Server is the HTTP facade between the browser and the payment backend: it
// owns the session cookie and proxies the payment contract.
type Server struct {
	cfg      Config
	pipeline *session.Pipeline
	codec    *session.Codec
	orders   *qrpay.OrderClient
	logger   *zap.Logger
}

// NewServer wires a gateway Server.
func NewServer(cfg Config, pipeline *session.Pipeline, codec *session.Codec, orders *qrpay.OrderClient, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, pipeline: pipeline, codec: codec, orders: orders, logger: logger}
}

// Router builds the gin engine with all gateway routes.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/auth/google/callback", server.handleGoogleCallback)
	api.POST("/auth/logout", server.handleLogout)
	api.GET("/session", server.handleSession)
	api.POST("/payments/create-order", server.handleCreateOrder)
	api.GET("/payments/:transaction_id/status", server.handleStatus)

	return router
}

type googleCallbackPayload struct {
	ProviderID string `json:"provider_id"`
	Token      string `json:"token"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`
}

// handleGoogleCallback runs the sign-in chain. Backend sync failure still
// produces a valid (unsynced) session: the OAuth identity alone is enough
// to sign in, only the enrichment fields stay absent.
func (server *Server) handleGoogleCallback(ctx *gin.Context) {
	var payload googleCallbackPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": "expected JSON body"})
		return
	}
	if payload.Email == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": "email is required"})
		return
	}

	identity := session.Identity{
		ProviderID:  payload.ProviderID,
		Email:       payload.Email,
		DisplayName: payload.Name,
		AvatarURL:   payload.AvatarURL,
	}
	token := server.pipeline.Establish(ctx.Request.Context(), identity, payload.Token)
	signed, err := server.codec.Sign(token)
	if err != nil {
		server.logger.Error("session sign failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": "session creation failed"})
		return
	}

	ctx.SetCookie(server.cfg.SessionCookieName, signed, int(session.Lifetime.Seconds()), "/", "", server.cfg.SecureCookies, true)
	ctx.JSON(http.StatusOK, sessionPayloadFrom(server.pipeline.MaterializeSession(token)))
}

func (server *Server) handleLogout(ctx *gin.Context) {
	ctx.SetCookie(server.cfg.SessionCookieName, "", -1, "/", "", server.cfg.SecureCookies, true)
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

func (server *Server) handleSession(ctx *gin.Context) {
	view, ok := server.currentSession(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"message": "missing session"})
		return
	}
	ctx.JSON(http.StatusOK, sessionPayloadFrom(view))
}

type createOrderPayload struct {
	Coins  int64 `json:"coins"`
	Amount int64 `json:"amount"`
}

// handleCreateOrder places an order for the signed-in user when the session
// is synced, and an anonymous one otherwise. Anonymous orders cannot later
// be reconciled to a session balance; that is accepted, not an error.
func (server *Server) handleCreateOrder(ctx *gin.Context) {
	var payload createOrderPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": "expected JSON body"})
		return
	}

	userID := ""
	if view, ok := server.currentSession(ctx); ok && view.InternalUserID != nil {
		userID = *view.InternalUserID
	}

	order, err := server.orders.Create(ctx.Request.Context(), userID, payload.Coins, payload.Amount)
	if err != nil {
		server.respondOrderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id":   order.TransactionID,
		"status":           order.Status.String(),
		"coins":            order.Coins,
		"amount":           order.AmountVND,
		"qr_code_url":      order.QRImageURL,
		"bank_name":        order.BankName,
		"account_number":   order.AccountNumber,
		"transfer_content": order.TransferContent,
	})
}

func (server *Server) handleStatus(ctx *gin.Context) {
	snapshot, err := server.orders.Status(ctx.Request.Context(), ctx.Param("transaction_id"))
	if err != nil {
		server.respondOrderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id": snapshot.TransactionID,
		"status":         snapshot.Status.String(),
		"amount":         snapshot.AmountVND,
		"coins":          snapshot.Coins,
		"credits":        snapshot.Credits,
	})
}

// respondOrderError preserves the backend's status and message for
// rejections and maps transport and decode failures to 502.
func (server *Server) respondOrderError(ctx *gin.Context, err error) {
	var backendErr *qrpay.BackendError
	switch {
	case errors.As(err, &backendErr):
		ctx.JSON(backendErr.StatusCode, gin.H{"message": backendErr.Message})
	case errors.Is(err, qrpay.ErrInvalidCoins), errors.Is(err, qrpay.ErrInvalidAmount), errors.Is(err, qrpay.ErrInvalidTransactionID):
		ctx.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		server.logger.Warn("backend call failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, gin.H{"message": "payment backend unavailable"})
	}
}

func (server *Server) currentSession(ctx *gin.Context) (session.View, bool) {
	raw, err := ctx.Cookie(server.cfg.SessionCookieName)
	if err != nil || raw == "" {
		return session.View{}, false
	}
	token, err := server.codec.Decode(raw)
	if err != nil {
		return session.View{}, false
	}
	return server.pipeline.MaterializeSession(token), true
}

// sessionPayload is the JSON projection of a session view. The backend
// fields are omitted entirely when unsynced so consumers cannot mistake
// "not yet synced" for zero credits or a non-privileged account.
type sessionPayload struct {
	ProviderID     string  `json:"provider_id,omitempty"`
	Email          string  `json:"email"`
	DisplayName    string  `json:"name"`
	AvatarURL      string  `json:"avatar_url,omitempty"`
	InternalUserID *string `json:"user_id,omitempty"`
	CreditBalance  *int64  `json:"credits,omitempty"`
	IsPrivileged   *bool   `json:"is_admin,omitempty"`
	Synced         bool    `json:"synced"`
	ExpiresAt      int64   `json:"expires_at"`
}

func sessionPayloadFrom(view session.View) sessionPayload {
	return sessionPayload{
		ProviderID:     view.ProviderID,
		Email:          view.Email,
		DisplayName:    view.DisplayName,
		AvatarURL:      view.AvatarURL,
		InternalUserID: view.InternalUserID,
		CreditBalance:  view.CreditBalance,
		IsPrivileged:   view.IsPrivileged,
		Synced:         view.Synced(),
		ExpiresAt:      view.ExpiresAt.Unix(),
	}
}
