package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const webhookSignatureHeader = "X-Webhook-Secret"

// Server exposes the payment backend contract over HTTP.
type Server struct {
	cfg      Config
	payments *PaymentService
	auth     *AuthService
	logger   *zap.Logger
}

// NewServer wires a Server over the backend services.
func NewServer(cfg Config, payments *PaymentService, auth *AuthService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, payments: payments, auth: auth, logger: logger}
}

// Router builds the gin engine with all backend routes.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", webhookSignatureHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/payments/create-order", server.handleCreateOrder)
	router.GET("/payments/:transaction_id/status", server.handleStatus)
	router.POST("/payments/webhook", server.handleWebhook)
	router.POST("/auth/google", server.handleGoogleAuth)
	router.GET("/account/:user_id/balance", server.handleBalance)

	return router
}

// Run serves the backend until the context is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		server.logger.Info("backend listening", zap.String("addr", server.cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			server.logger.Warn("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return group.Wait()
}

type createOrderPayload struct {
	UserID string `json:"user_id"`
	Coins  int64  `json:"coins"`
	Amount int64  `json:"amount"`
}

func (server *Server) handleCreateOrder(ctx *gin.Context) {
	var payload createOrderPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": "expected JSON body"})
		return
	}
	if payload.Coins <= 0 || payload.Amount <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": "coins and amount must be positive"})
		return
	}

	result, err := server.payments.CreateOrder(ctx.Request.Context(), payload.UserID, payload.Coins, payload.Amount)
	if err != nil {
		if errors.Is(err, ErrInvalidPackage) {
			ctx.JSON(http.StatusBadRequest, gin.H{"message": "invalid package"})
			return
		}
		server.logger.Error("create order failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": "create order failed"})
		return
	}

	// qr_content and amount double as aliases of transfer_content and
	// amount_vnd for older consumers of this contract.
	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id":   result.TransactionID,
		"status":           result.Status.String(),
		"payment_method":   result.PaymentMethod,
		"coins":            result.Coins,
		"amount":           result.AmountVND,
		"amount_vnd":       result.AmountVND,
		"qr_code_url":      result.QRCodeURL,
		"bank_name":        result.BankName,
		"account_number":   result.AccountNumber,
		"transfer_content": result.TransferContent,
		"qr_content":       result.TransferContent,
	})
}

func (server *Server) handleStatus(ctx *gin.Context) {
	transactionID := ctx.Param("transaction_id")
	result, err := server.payments.Status(ctx.Request.Context(), transactionID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"message": "payment not found"})
			return
		}
		server.logger.Error("status lookup failed",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": "status lookup failed"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id": result.TransactionID,
		"status":         result.Status,
		"amount":         result.AmountVND,
		"coins":          result.Coins,
		"credits":        result.UserCredits,
		"user_id":        result.UserID,
	})
}

func (server *Server) handleWebhook(ctx *gin.Context) {
	rawPayload, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": "unreadable body"})
		return
	}

	result, err := server.payments.ProcessWebhook(ctx.Request.Context(), rawPayload, ctx.GetHeader(webhookSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidWebhookSignature):
			ctx.JSON(http.StatusUnauthorized, gin.H{"message": "invalid webhook signature"})
		case errors.Is(err, ErrMissingTransactionID):
			ctx.JSON(http.StatusBadRequest, gin.H{"message": "missing transaction_id"})
		case errors.Is(err, ErrPaymentNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"message": "payment not found"})
		default:
			server.logger.Error("webhook processing failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"message": "webhook processing failed"})
		}
		return
	}

	response := gin.H{
		"ok":             result.OK,
		"status":         result.Status.String(),
		"transaction_id": result.TransactionID,
	}
	if result.UserID != "" {
		response["user_id"] = result.UserID
	}
	if result.UserCredits != nil {
		response["user_credits"] = *result.UserCredits
	}
	if result.Reason != "" {
		response["reason"] = result.Reason
	}
	ctx.JSON(http.StatusOK, response)
}

type googleAuthPayload struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (server *Server) handleGoogleAuth(ctx *gin.Context) {
	var payload googleAuthPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"message": "expected JSON body"})
		return
	}

	result, err := server.auth.GoogleAuth(ctx.Request.Context(), GoogleAuthRequest{
		Token:     payload.Token,
		Email:     payload.Email,
		Name:      payload.Name,
		AvatarURL: payload.AvatarURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailMismatch):
			ctx.JSON(http.StatusUnauthorized, gin.H{"message": "email mismatch"})
		case errors.Is(err, ErrInvalidGoogleToken):
			ctx.JSON(http.StatusUnauthorized, gin.H{"message": "invalid google token"})
		default:
			server.logger.Error("google auth failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"message": "authentication failed"})
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user_id":  result.UserID,
		"credits":  result.Credits,
		"is_admin": result.IsAdmin,
	})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	userID := ctx.Param("user_id")
	credits, err := server.auth.Balance(ctx.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return
		}
		server.logger.Error("balance lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": "balance lookup failed"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user_id": userID, "credits": credits})
}
