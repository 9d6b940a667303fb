package router

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"chat_order/internal/config"
	"chat_order/internal/dispatch"
	"chat_order/internal/intent"
	"chat_order/internal/logger"
	"chat_order/internal/middleware"
	"chat_order/internal/model"
	"chat_order/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
)

// MessageHandler 消息入口。
type MessageHandler interface {
	Handle(ctx context.Context, msg dispatch.Message) (dispatch.IngestResult, error)
}

// OverrideSetter 人工接管开关。
type OverrideSetter interface {
	SetManualOverride(ctx context.Context, tenantID, customerID string, on bool) error
}

// RuleAdmin 覆盖规则管理。
type RuleAdmin interface {
	ListRules(ctx context.Context, tenantID string) ([]model.IntentOverrideRule, error)
	CreateRule(ctx context.Context, rule *model.IntentOverrideRule) error
}

// OrderReader 订单查询。
type OrderReader interface {
	FindByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)
}

// CatalogInvalidator 目录缓存失效。
type CatalogInvalidator interface {
	Invalidate(tenantID string)
}

// Deps Redis 为 nil 时不挂限流中间件。
type Deps struct {
	Messages MessageHandler
	Sessions OverrideSetter
	Rules    RuleAdmin
	Orders   OrderReader
	Catalog  CatalogInvalidator
	Redis    *rd.Client
	Log      *logger.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, deps Deps, cfg config.AppConfig) {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ingest := []gin.HandlerFunc{postMessage(deps.Messages, log)}
	if deps.Redis != nil {
		ingest = append([]gin.HandlerFunc{middleware.RedisRateLimit(deps.Redis, cfg.MessageRateLimit, cfg.MessageRateWindow, log)}, ingest...)
	}
	r.POST("/api/messages", ingest...)
	r.GET("/api/orders/:order_no", getOrder(deps.Orders))

	admin := r.Group("/api", adminOnly(cfg.AdminToken))
	admin.POST("/sessions/:tenant/:customer/override", setOverride(deps.Sessions, log))
	admin.GET("/tenants/:tenant/overrides", listRules(deps.Rules))
	admin.POST("/tenants/:tenant/overrides", createRule(deps.Rules, log))
	if deps.Catalog != nil {
		admin.POST("/tenants/:tenant/catalog/invalidate", invalidateCatalog(deps.Catalog))
	}
}

// adminOnly 管理接口要求简单的管理员 token。
func adminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// postMessage 消息入口。Used=false 时调用方不应自动回复。
func postMessage(h MessageHandler, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg dispatch.Message
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		res, err := h.Handle(c.Request.Context(), msg)
		switch {
		case errors.Is(err, dispatch.ErrInvalidMessage):
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		case errors.Is(err, dispatch.ErrUnknownTenant):
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "unknown tenant"})
			return
		case err != nil:
			log.Error("message handling failed", "tenant_id", msg.TenantID, "customer_id", msg.CustomerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
	}
}

func getOrder(orders OrderReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := orders.FindByOrderNo(c.Request.Context(), c.Param("order_no"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		lines, err := store.DecodeLines(o)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"order": o, "lines": lines}})
	}
}

// setOverride 商户在聊天里人工接管 / 交还机器人。
func setOverride(sessions OverrideSetter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			On *bool `json:"on" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		tenantID, customerID := c.Param("tenant"), c.Param("customer")
		if err := sessions.SetManualOverride(c.Request.Context(), tenantID, customerID, *req.On); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		log.Info("manual override changed", "tenant_id", tenantID, "customer_id", customerID, "on", *req.On)
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"manual_override": *req.On}})
	}
}

func listRules(rules RuleAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := rules.ListRules(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createRule 商户手工配置覆盖规则。
func createRule(rules RuleAdmin, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Pattern    string  `json:"pattern" binding:"required"`
			MatchType  string  `json:"match_type"`
			Lane       string  `json:"lane" binding:"required"`
			Confidence float64 `json:"confidence" binding:"omitempty,gte=0,lte=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		lane := intent.ParseLane(req.Lane)
		if lane == intent.LaneUnknown {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "unknown lane"})
			return
		}
		matchType := strings.ToLower(strings.TrimSpace(req.MatchType))
		switch matchType {
		case "":
			matchType = model.MatchExact
		case model.MatchExact, model.MatchContains:
		case model.MatchRegex:
			if _, err := regexp.Compile(req.Pattern); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid regex: " + err.Error()})
				return
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "match_type must be exact, contains or regex"})
			return
		}
		pattern := req.Pattern
		if matchType != model.MatchRegex {
			pattern = intent.Normalize(pattern)
		}
		if pattern == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "pattern is empty"})
			return
		}
		confidence := req.Confidence
		if confidence == 0 {
			confidence = intent.LearnedConfidence
		}
		rule := &model.IntentOverrideRule{
			TenantID:   c.Param("tenant"),
			Pattern:    pattern,
			MatchType:  matchType,
			Lane:       string(lane),
			Confidence: confidence,
			Active:     true,
			Provenance: model.ProvenanceTenant,
		}
		if err := rules.CreateRule(c.Request.Context(), rule); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		log.Info("override rule created", "tenant_id", rule.TenantID, "pattern", rule.Pattern, "lane", rule.Lane)
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": rule})
	}
}

func invalidateCatalog(cat CatalogInvalidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat.Invalidate(c.Param("tenant"))
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "catalog cache invalidated"})
	}
}
