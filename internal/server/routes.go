package server

import (
	"payrecon/internal/app"
	"payrecon/internal/handler"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, a *app.App) {
	cfg := a.Config

	//Handler生成
	webhookH := handler.NewPaymentWebhookHandler(a.Webhook, cfg.WebhookAckOnError, a.Logger)
	jobH := handler.NewJobHandler(a.Jobs)
	orderH := handler.NewAdminOrderHandler(a.Orders, a.Refunds)
	refundH := handler.NewAdminRefundHandler(a.Refunds)
	accountH := handler.NewAdminAccountHandler(a.Accounts)
	systemH := handler.NewAdminSystemHandler(a.Orders, a.Jobs)

	//公開（署名・トークンで保護）
	webhookH.RegisterRoutes(e)
	jobH.RegisterRoutes(e, cfg)

	//管理者のみ
	orderH.RegisterRoutes(e, cfg, a.UserRepo)
	refundH.RegisterRoutes(e, cfg, a.UserRepo)
	accountH.RegisterRoutes(e, cfg, a.UserRepo)
	systemH.RegisterRoutes(e, cfg, a.UserRepo)
}
