package httpapi

import (
	"invoice-engine/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the /v1 API. authMW must verify the bearer token.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	api := v1.Group("")
	api.Use(authMW, rbac.RequireBranch())

	adminOnly := rbac.RequireAnyRole(rbac.RoleAdmin)
	anyRole := rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleBranch)

	invoices := api.Group("/invoices")
	{
		invoices.GET("", anyRole, h.ListInvoices)
		invoices.GET("/:id", anyRole, h.GetInvoice)
		invoices.GET("/:id/history", anyRole, h.History)
		invoices.POST("/:id/attachment", anyRole, h.UploadAttachment)
		invoices.GET("/:id/attachment/:which", anyRole, h.DownloadAttachment)
		invoices.POST("/:id/resend", anyRole, h.Resend)

		invoices.POST("/:id/insurer", adminOnly, h.AssignInsurer)
		invoices.POST("/:id/send", adminOnly, h.Send)
		invoices.POST("/:id/close", adminOnly, h.Close)
		invoices.PUT("/:id/notes", adminOnly, h.UpdateNotes)
	}

	api.GET("/insurers", anyRole, h.ListInsurers)
	api.GET("/reports/invoices", adminOnly, h.InvoiceReport)

	admin := api.Group("/admin")
	admin.Use(adminOnly)
	{
		admin.POST("/ingest/run", h.RunIngest)
	}
}
