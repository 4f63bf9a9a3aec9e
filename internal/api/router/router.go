package router

import (
	"context"
	"crypto/subtle"

	"cv-core-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册全部HTTP路由。
// apiKey非空时/api/v1整组启用Bearer鉴权，健康检查始终放行。
func RegisterRoutes(h *server.Hertz, apiKey string, profiles *handler.ProfileHandler) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if apiKey != "" {
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
			keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
			}),
			keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
				c.JSON(consts.StatusUnauthorized, utils.H{"error": "鉴权失败"})
				c.Abort()
			}),
		))
	}

	api.POST("/profile/extract", profiles.HandleExtract)
	api.PATCH("/profile/update", profiles.HandleUpdate)
	api.GET("/profile/:candidate_id", profiles.HandleGetProfile)
	api.GET("/profile/:candidate_id/versions", profiles.HandleListVersions)
	api.GET("/match/score", profiles.HandleGetScore)
	api.POST("/match/trigger", profiles.HandleTriggerScore)
}
