package httpapi

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"invoice-engine/internal/auth"
	"invoice-engine/internal/ingest"
	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"
	"invoice-engine/internal/lifecycle"
	"invoice-engine/internal/rbac"
	"invoice-engine/internal/reporting"
	"invoice-engine/internal/storage"

	"github.com/gin-gonic/gin"
)

// MaxUploadBytes caps a secondary attachment upload.
const MaxUploadBytes = 20 << 20

// AttachmentFiles opens stored attachments for download.
type AttachmentFiles interface {
	Open(name string) (*os.File, error)
}

// IngestTrigger runs one poll cycle on demand.
type IngestTrigger interface {
	RunOnce(ctx context.Context) (ingest.Report, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Invoices *lifecycle.Service
	Insurers insurer.Directory
	Reports  *reporting.Service
	Files    AttachmentFiles
	Ingest   IngestTrigger

	// IssueTokens enables POST /v1/auth/login. Credentials are checked by the
	// back office in front of this service, so it stays off in production.
	IssueTokens bool
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Branch string `json:"branch"`
}

// Login issues a JWT token pair without checking credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.IssueTokens {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a known role required"})
		return
	}
	branch := ""
	if req.Role == rbac.RoleBranch {
		b, err := invoice.ParseBranch(req.Branch)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "branch required for branch users"})
			return
		}
		branch = string(b)
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, branch, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Invoices ---

// invoiceView adds derived display fields to an invoice.
type invoiceView struct {
	invoice.Invoice
	StateLabel string `json:"state_label"`
	Overdue    bool   `json:"overdue"`
}

func viewOf(inv invoice.Invoice, now time.Time) invoiceView {
	return invoiceView{Invoice: inv, StateLabel: inv.State.Label(), Overdue: inv.Overdue(now)}
}

type listResponse struct {
	Items    []invoiceView `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

func (h Handlers) ListInvoices(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	page, err := h.Invoices.List(c.Request.Context(), actor, f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	now := time.Now()
	out := listResponse{Items: make([]invoiceView, 0, len(page.Items)), Total: page.Total, Page: page.Page, PageSize: page.PageSize}
	for _, inv := range page.Items {
		out.Items = append(out.Items, viewOf(inv, now))
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetInvoice(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	inv, err := h.Invoices.Get(c.Request.Context(), actor, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(inv, time.Now()))
}

func (h Handlers) History(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	entries, err := h.Invoices.History(c.Request.Context(), actor, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

type assignInsurerRequest struct {
	InsurerID int64 `json:"insurer_id"`
}

func (h Handlers) AssignInsurer(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	var req assignInsurerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.InsurerID <= 0 {
		abortWithError(c, invoice.Reject(invoice.ErrInvalidArgument, "Debe seleccionar una aseguradora."))
		return
	}
	inv, err := h.Invoices.AssignInsurer(c.Request.Context(), actor, id, req.InsurerID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(inv, time.Now()))
}

// UploadAttachment accepts the secondary document as multipart field "file".
func (h Handlers) UploadAttachment(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "El archivo es demasiado grande."})
			return
		}
		abortWithError(c, invoice.Reject(invoice.ErrEmptyFile, invoice.MsgEmptyFile))
		return
	}
	if fh.Size == 0 {
		abortWithError(c, invoice.Reject(invoice.ErrEmptyFile, invoice.MsgEmptyFile))
		return
	}
	inv, err := h.attach(c.Request.Context(), actor, id, fh)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(inv, time.Now()))
}

func (h Handlers) attach(ctx context.Context, actor lifecycle.Actor, id int64, fh *multipart.FileHeader) (invoice.Invoice, error) {
	f, err := fh.Open()
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("httpapi: open upload: %w", err)
	}
	defer f.Close()
	return h.Invoices.AttachSecondary(ctx, actor, id, fh.Filename, f)
}

// DownloadAttachment serves the primary or secondary document inline.
func (h Handlers) DownloadAttachment(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	name, err := h.Invoices.AttachmentName(c.Request.Context(), actor, id, lifecycle.Which(c.Param("which")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	f, err := h.Files.Open(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "El archivo no está disponible."})
			return
		}
		abortWithError(c, err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	http.ServeContent(c.Writer, c.Request, name, st.ModTime(), f)
}

func (h Handlers) Send(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	inv, err := h.Invoices.Send(c.Request.Context(), actor, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(inv, time.Now()))
}

func (h Handlers) Close(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	inv, err := h.Invoices.Close(c.Request.Context(), actor, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(inv, time.Now()))
}

func (h Handlers) Resend(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	if err := h.Invoices.Resend(c.Request.Context(), actor, id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h Handlers) UpdateNotes(c *gin.Context) {
	actor, id, ok := h.target(c)
	if !ok {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	inv, err := h.Invoices.UpdateNotes(c.Request.Context(), actor, id, strings.TrimSpace(req.Notes))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(inv, time.Now()))
}

// --- Insurers, reports, ingestion ---

func (h Handlers) ListInsurers(c *gin.Context) {
	items, err := h.Insurers.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if items == nil {
		items = []insurer.Insurer{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h Handlers) InvoiceReport(c *gin.Context) {
	period, err := reporting.ParsePeriod(c.Query("period"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out, err := h.Reports.InvoiceCounts(c.Request.Context(), reporting.InvoiceCountsRequest{
		Period: period,
		From:   c.Query("from"),
		To:     c.Query("to"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// RunIngest triggers one poll cycle and reports its outcome counts.
func (h Handlers) RunIngest(c *gin.Context) {
	if h.Ingest == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "mailbox not configured"})
		return
	}
	rep, err := h.Ingest.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, ingest.ErrBusy) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Ya hay una lectura de correo en curso."})
			return
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// --- helpers ---

func (h Handlers) actor(c *gin.Context) (lifecycle.Actor, bool) {
	a, err := rbac.Actor(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return lifecycle.Actor{}, false
	}
	return a, true
}

func (h Handlers) target(c *gin.Context) (lifecycle.Actor, int64, bool) {
	a, ok := h.actor(c)
	if !ok {
		return lifecycle.Actor{}, 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id inválido"})
		return lifecycle.Actor{}, 0, false
	}
	return a, id, true
}

func parseFilter(c *gin.Context) (invoice.Filter, error) {
	f := invoice.Filter{
		InvoiceNumber: c.Query("invoice_number"),
		ClaimNumber:   c.Query("claim_number"),
		OrderNumber:   c.Query("order_number"),
	}
	if v := c.Query("state"); v != "" {
		s, err := invoice.ParseState(v)
		if err != nil {
			return f, invoice.Reject(invoice.ErrInvalidArgument, "Estado desconocido.")
		}
		f.State = &s
	}
	if v := c.Query("insurer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, invoice.Reject(invoice.ErrInvalidArgument, "Aseguradora inválida.")
		}
		f.InsurerID = &id
	}
	if v := c.Query("overdue"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, invoice.Reject(invoice.ErrInvalidArgument, "Filtro de vencidas inválido.")
		}
		f.OverdueOnly = b
	}
	var err error
	if f.Page, err = intQuery(c, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = intQuery(c, "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invoice.Reject(invoice.ErrInvalidArgument, "Paginación inválida.")
	}
	return n, nil
}
