package handler

import (
	"context"
	"errors"
	"strconv"

	"ladocoin/internal/job"
	"ladocoin/internal/model"
	"ladocoin/internal/service"
	"ladocoin/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sweeper 后台手动触发过期扫描
type Sweeper interface {
	RunOnce(ctx context.Context) (*job.SweepReport, error)
	RunFull(ctx context.Context) (*job.SweepReport, error)
}

// OutboxRequeuer 后台重新投递失败消息
type OutboxRequeuer interface {
	RequeueFailed(ctx context.Context, limit int) (int, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	svc     *service.Services
	sweeper Sweeper
	outbox  OutboxRequeuer
	log     *zap.Logger
}

// NewHandler 创建处理器实例，sweeper / outbox 可为 nil
func NewHandler(svc *service.Services, sweeper Sweeper, outbox OutboxRequeuer, log *zap.Logger) *Handler {
	return &Handler{svc: svc, sweeper: sweeper, outbox: outbox, log: log}
}

// fail 把服务层错误映射成业务错误码
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrInvalidUser):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrDailyCapExceeded):
		response.BusinessError(c, response.CodeDailyCapExceeded, err.Error())
	case errors.Is(err, service.ErrMonthlyCapExceeded):
		response.BusinessError(c, response.CodeMonthlyCapExceeded, err.Error())
	case errors.Is(err, service.ErrDuplicateAward):
		response.BusinessError(c, response.CodeDuplicateAward, err.Error())
	case errors.Is(err, service.ErrConcurrentModification), errors.Is(err, service.ErrExpirationRace):
		response.BusinessError(c, response.CodeConcurrentModification, err.Error())
	case errors.Is(err, service.ErrUnknownConfigKey):
		response.BusinessError(c, response.CodeUnknownConfigKey, err.Error())
	case errors.Is(err, service.ErrReferralExists):
		response.BusinessError(c, response.CodeReferralExists, err.Error())
	case errors.Is(err, service.ErrReferralNotFound):
		response.BusinessError(c, response.CodeReferralNotFound, err.Error())
	case errors.Is(err, service.ErrSelfReferral):
		response.BusinessError(c, response.CodeSelfReferral, err.Error())
	case errors.Is(err, service.ErrInvalidEvent):
		response.BusinessError(c, response.CodeInvalidEvent, err.Error())
	case errors.Is(err, service.ErrSystemKind):
		response.BusinessError(c, response.CodeSystemKind, err.Error())
	default:
		h.log.Error("[Handler] 请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
	}
}

func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

func operator(c *gin.Context) string {
	if op := c.GetHeader("X-Operator"); op != "" {
		return op
	}
	return "admin"
}

// ============================================================
// 账本
// ============================================================

// CreditRequest 入账请求，amount 为空时使用该类型的配置金额
type CreditRequest struct {
	UserID        int64            `json:"user_id" binding:"required"`
	Type          string           `json:"type" binding:"required"`
	Amount        *decimal.Decimal `json:"amount"`
	ReferenceID   string           `json:"reference_id"`
	ReferenceType string           `json:"reference_type"`
}

// Credit 入账
// POST /api/v1/ledger/credit
func (h *Handler) Credit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	kind, ok := model.ParseCreditKind(req.Type)
	if !ok {
		response.ParamError(c, "不支持的入账类型: "+req.Type)
		return
	}

	entry, err := h.svc.Accrual.Credit(c.Request.Context(), &service.CreditRequest{
		UserID:        req.UserID,
		Kind:          kind,
		Amount:        req.Amount,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, entry)
}

// DebitRequest 消费请求
type DebitRequest struct {
	UserID        int64           `json:"user_id" binding:"required"`
	Type          string          `json:"type" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceID   string          `json:"reference_id"`
	ReferenceType string          `json:"reference_type"`
}

// Debit 消费
// POST /api/v1/ledger/debit
func (h *Handler) Debit(c *gin.Context) {
	var req DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	kind, ok := model.ParseDebitKind(req.Type)
	if !ok {
		response.ParamError(c, "不支持的消费类型: "+req.Type)
		return
	}

	entry, err := h.svc.Spend.Debit(c.Request.Context(), &service.DebitRequest{
		UserID:        req.UserID,
		Kind:          kind,
		Amount:        req.Amount,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, entry)
}

// Deduct 后台扣减
// POST /api/v1/ledger/deduct
func (h *Handler) Deduct(c *gin.Context) {
	var req DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	kind, ok := model.ParseDeductionKind(req.Type)
	if !ok {
		response.ParamError(c, "不支持的扣减类型: "+req.Type)
		return
	}

	entry, err := h.svc.Spend.Deduct(c.Request.Context(), &service.DeductRequest{
		UserID:        req.UserID,
		Kind:          kind,
		Amount:        req.Amount,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Operator:      operator(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, entry)
}

// GetBalance 查询余额
// GET /api/v1/ledger/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	view, err := h.svc.Balance.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// ListEntries 查询账本流水
// GET /api/v1/ledger/entries?user_id=xxx&page=1&page_size=20
func (h *Handler) ListEntries(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	entries, total, err := h.svc.Balance.ListEntries(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListConsumptions 某笔消费的 FIFO 消耗明细
// GET /api/v1/ledger/consumptions?debit_id=xxx
func (h *Handler) ListConsumptions(c *gin.Context) {
	debitID, ok := queryID(c, "debit_id")
	if !ok {
		return
	}
	items, err := h.svc.Balance.ListConsumptions(c.Request.Context(), debitID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, items)
}

// ============================================================
// 奖励与行为
// ============================================================

type userRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// GrantWelcome 注册奖励
// POST /api/v1/bonus/welcome
func (h *Handler) GrantWelcome(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	entry, err := h.svc.Accrual.GrantWelcomeBonus(c.Request.Context(), req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, entry)
}

// ActivityRequest 每日行为事件
type ActivityRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Event  string `json:"event" binding:"required"`
}

// RecordActivity 记录每日行为
// POST /api/v1/activity/event
func (h *Handler) RecordActivity(c *gin.Context) {
	var req ActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.Streak.RecordDailyEvent(c.Request.Context(), req.UserID, model.ActivityEvent(req.Event))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// GetStreak 查询连续登录与当日计数
// GET /api/v1/activity/streak?user_id=xxx
func (h *Handler) GetStreak(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	st, err := h.svc.Streak.GetStreak(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, st)
}

// ============================================================
// 推荐
// ============================================================

// RegisterReferralRequest 推荐关系注册
type RegisterReferralRequest struct {
	ReferrerID   int64  `json:"referrer_id" binding:"required"`
	ReferredID   int64  `json:"referred_id" binding:"required"`
	ReferralCode string `json:"referral_code"`
}

// RegisterReferral 注册推荐关系并发放双方奖励
// POST /api/v1/referral/register
func (h *Handler) RegisterReferral(c *gin.Context) {
	var req RegisterReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	link, err := h.svc.Referral.Register(c.Request.Context(), req.ReferrerID, req.ReferredID, req.ReferralCode)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, link)
}

// MarkCreator 被推荐人成为创作者，奖励推荐人
// POST /api/v1/referral/creator
func (h *Handler) MarkCreator(c *gin.Context) {
	var req struct {
		ReferredID int64 `json:"referred_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	entry, err := h.svc.Referral.MarkCreator(c.Request.Context(), req.ReferredID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, entry)
}

// ListReferrals 推荐人名下的推荐关系
// GET /api/v1/referral/list?referrer_id=xxx
func (h *Handler) ListReferrals(c *gin.Context) {
	referrerID, ok := queryID(c, "referrer_id")
	if !ok {
		return
	}
	links, err := h.svc.Referral.ListReferrals(c.Request.Context(), referrerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, links)
}

// ============================================================
// 后台
// ============================================================

// ListConfig 全部配置项
// GET /api/v1/admin/config
func (h *Handler) ListConfig(c *gin.Context) {
	settings, err := h.svc.Config.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, settings)
}

// SetConfigRequest 修改配置
type SetConfigRequest struct {
	Key   string          `json:"key" binding:"required"`
	Value decimal.Decimal `json:"value"`
}

// SetConfig 修改配置项，立即生效
// PUT /api/v1/admin/config
func (h *Handler) SetConfig(c *gin.Context) {
	var req SetConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	change, err := h.svc.Config.Set(c.Request.Context(), req.Key, req.Value, operator(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, change)
}

// ConfigHistory 配置变更历史
// GET /api/v1/admin/config/history?key=xxx&limit=20
func (h *Handler) ConfigHistory(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.ParamError(c, "key 参数不能为空")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	history, err := h.svc.Config.History(c.Request.Context(), key, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, history)
}

// RunSweep 手动触发过期扫描，full=true 时忽略断点
// POST /api/v1/admin/sweep?full=true
func (h *Handler) RunSweep(c *gin.Context) {
	if h.sweeper == nil {
		response.NotFound(c, "过期任务未启用")
		return
	}
	run := h.sweeper.RunOnce
	if c.Query("full") == "true" {
		run = h.sweeper.RunFull
	}
	report, err := run(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, report)
}

// Reconcile 余额对账
// GET /api/v1/admin/reconcile?user_id=xxx
func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	rec, err := h.svc.Balance.Reconcile(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, rec)
}

// RequeueOutbox 失败消息重新入队
// POST /api/v1/admin/outbox/requeue?limit=100
func (h *Handler) RequeueOutbox(c *gin.Context) {
	if h.outbox == nil {
		response.NotFound(c, "消息投递任务未启用")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	n, err := h.outbox.RequeueFailed(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"requeued": n})
}
