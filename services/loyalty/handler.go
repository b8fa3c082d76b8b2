package loyalty

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"met-loyalty/pkg/errutil"
	"met-loyalty/services/catalog"
)

// Handler exposes the engine over HTTP for the storefront and admin UIs.
type Handler struct {
	engine   *Engine
	catalogs *catalog.Store
}

func NewHandler(engine *Engine, catalogs *catalog.Store) *Handler {
	return &Handler{engine: engine, catalogs: catalogs}
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.GET("/catalog/tiers", h.listTiers)
	v1.GET("/catalog/rewards", h.listRewards)

	acc := v1.Group("/accounts/:user_id")
	acc.GET("", h.getAccount)
	acc.GET("/level", h.getLevel)
	acc.GET("/discount", h.getDiscount)
	acc.GET("/transactions", h.listTransactions)
	acc.GET("/redemptions", h.listRedemptions)
	acc.GET("/verify", h.verify)
	acc.POST("/points", h.addPoints)
	acc.POST("/courses/:course_id/complete", h.completeCourse)
	acc.POST("/daily-login", h.dailyLogin)
	acc.POST("/redemptions", h.redeem)

	admin := v1.Group("/admin/accounts/:user_id/points")
	admin.POST("/add", h.adminAdd)
	admin.POST("/remove", h.adminRemove)

	red := v1.Group("/redemptions/:code")
	red.POST("/check", h.checkRedemption)
	red.POST("/use", h.useRedemption)
}

type addPointsRequest struct {
	Amount      int64             `json:"amount" binding:"required"`
	Kind        TransactionKind   `json:"kind"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type adminPointsRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

type completeCourseRequest struct {
	CourseName    string `json:"course_name"`
	IsFirstCourse bool   `json:"is_first_course"`
	CustomPoints  *int64 `json:"custom_points"`
}

type redeemRequest struct {
	RewardID string `json:"reward_id" binding:"required"`
}

type checkRedemptionRequest struct {
	Context map[string]any `json:"context"`
}

type checkRedemptionResponse struct {
	Valid      bool        `json:"valid"`
	Reason     string      `json:"reason,omitempty"`
	Message    string      `json:"message,omitempty"`
	Redemption *Redemption `json:"redemption,omitempty"`
}

func (h *Handler) listTiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": h.catalogs.Current().Tiers()})
}

func (h *Handler) listRewards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rewards": h.catalogs.Current().Rewards()})
}

func (h *Handler) getAccount(c *gin.Context) {
	acc, err := h.engine.ViewAccount(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (h *Handler) getLevel(c *gin.Context) {
	status, err := h.engine.GetLevelStatus(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) getDiscount(c *gin.Context) {
	price, err := strconv.ParseFloat(c.Query("price"), 64)
	if err != nil {
		_ = c.Error(badRequest("price must be a number", err))
		return
	}

	d, err := h.engine.ApplyLevelDiscount(c.Request.Context(), c.Param("user_id"), price)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) listTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = c.Error(badRequest("limit must be a non-negative integer", err))
			return
		}
		limit = n
	}

	txs, err := h.engine.ListTransactions(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (h *Handler) listRedemptions(c *gin.Context) {
	reds, err := h.engine.ListRedemptions(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": reds})
}

func (h *Handler) verify(c *gin.Context) {
	v, err := h.engine.VerifyLedger(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) addPoints(c *gin.Context) {
	var req addPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(badRequest("invalid request body", err))
		return
	}

	res, err := h.engine.AddPoints(c.Request.Context(), c.Param("user_id"), AddPointsParams{
		Amount:      req.Amount,
		Kind:        req.Kind,
		Category:    req.Category,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) completeCourse(c *gin.Context) {
	var req completeCourseRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		_ = c.Error(badRequest("invalid request body", err))
		return
	}

	res, err := h.engine.AddPointsForCourseCompletion(c.Request.Context(), c.Param("user_id"), CourseCompletion{
		CourseID:      c.Param("course_id"),
		CourseName:    req.CourseName,
		IsFirstCourse: req.IsFirstCourse,
		CustomPoints:  req.CustomPoints,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) dailyLogin(c *gin.Context) {
	res, err := h.engine.AddDailyLoginPoints(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(badRequest("invalid request body", err))
		return
	}

	res, err := h.engine.RedeemReward(c.Request.Context(), c.Param("user_id"), req.RewardID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) adminAdd(c *gin.Context) {
	h.adminPoints(c, h.engine.AdminAddPoints)
}

func (h *Handler) adminRemove(c *gin.Context) {
	h.adminPoints(c, h.engine.AdminRemovePoints)
}

type adminOp func(ctx context.Context, userID string, amount int64, description string) (*Result, error)

func (h *Handler) adminPoints(c *gin.Context, op adminOp) {
	var req adminPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(badRequest("invalid request body", err))
		return
	}

	res, err := op(c.Request.Context(), c.Param("user_id"), req.Amount, req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) checkRedemption(c *gin.Context) {
	var req checkRedemptionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		_ = c.Error(badRequest("invalid request body", err))
		return
	}

	check, err := h.engine.CanApplyRedemption(c.Request.Context(), c.Param("code"), req.Context)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := checkRedemptionResponse{Valid: check.Valid, Redemption: check.Redemption}
	var be errutil.BaseError
	if errors.As(check.Reason, &be) {
		resp.Reason = be.Reason
		resp.Message = be.Message
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) useRedemption(c *gin.Context) {
	used, err := h.engine.UseRedemption(c.Request.Context(), c.Param("code"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"used": used})
}

// bindOptionalJSON decodes the body when one was sent.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	err := c.ShouldBindJSON(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func badRequest(msg string, err error) error {
	return errutil.BadRequest(msg, err, errutil.WithReason("INVALID_ARGUMENT"))
}
