package circulation

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"steppe-library/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterUserRoutes mounts routes for any signed-in reader.
func RegisterUserRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/me/dashboard", h.Dashboard)
	r.GET("/me/reservations", h.MyReservations)
	r.POST("/books/:id/reservations", h.Reserve)
	r.DELETE("/reservations/:id", h.CancelReservation)
}

// RegisterStaffRoutes mounts the circulation desk.
func RegisterStaffRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/loans", h.IssueLoan)
	r.GET("/loans", h.ListLoans)
	r.POST("/returns", h.ReturnLoan)
	r.GET("/fines", h.ListFines)
	r.POST("/fines/:id/pay", h.PayFine)
	r.POST("/fines/recalculate", h.RecalculateFines)
	r.GET("/staff/summary", h.StaffSummary)
	r.PATCH("/instances/:code/status", h.OverrideStatus)
	r.GET("/books/:id/queue", h.BookQueue)
}

// ===== desk =====

// IssueLoan godoc
// @Summary  Issue a copy to a reader
// @Tags     circulation
// @Accept   json
// @Produce  json
// @Param    body body IssueLoanRequest true "scanned code and borrower"
// @Success  201 {object} LoanResponse
// @Failure  404 {object} errDTO
// @Failure  409 {object} errDTO
// @Router   /loans [post]
func (h *Handler) IssueLoan(c *gin.Context) {
	var req IssueLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.IssueLoan(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ReturnLoan godoc
// @Summary  Take a copy back
// @Tags     circulation
// @Accept   json
// @Produce  json
// @Param    body body ReturnLoanRequest true "scanned code"
// @Success  200 {object} ReturnResponse
// @Failure  404 {object} errDTO
// @Failure  409 {object} errDTO
// @Router   /returns [post]
func (h *Handler) ReturnLoan(c *gin.Context) {
	var req ReturnLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.ReturnLoan(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListLoans(c *gin.Context) {
	f := LoanFilter{
		Username:    strings.TrimSpace(c.Query("username")),
		ActiveOnly:  c.Query("active") == "true",
		OverdueOnly: c.Query("overdue") == "true",
	}
	items, total, p, err := h.svc.ListLoans(c.Request.Context(), f, pageFrom(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "next_offset": nextOffset(total, p)})
}

func (h *Handler) OverrideStatus(c *gin.Context) {
	var req StatusOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.OverrideStatus(c.Request.Context(), c.Param("code"), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) StaffSummary(c *gin.Context) {
	res, err := h.svc.StaffSummary(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ===== fines =====

func (h *Handler) ListFines(c *gin.Context) {
	f := FineFilter{Username: strings.TrimSpace(c.Query("username"))}
	if v := c.Query("paid"); v != "" {
		paid, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "paid must be true or false"))
			return
		}
		f.Paid = &paid
	}
	items, total, p, err := h.svc.ListFines(c.Request.Context(), f, pageFrom(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "next_offset": nextOffset(total, p)})
}

func (h *Handler) PayFine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.PayFine(c.Request.Context(), id)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RecalculateFines(c *gin.Context) {
	res, err := h.svc.CalculateFines(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ===== reservations =====

func (h *Handler) Reserve(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	bookID, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.Reserve(c.Request.Context(), p.UserID, bookID)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) CancelReservation(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.CancelReservation(c.Request.Context(), p.UserID, p.IsLibrarian(), id); err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MyReservations(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	items, err := h.svc.MyReservations(c.Request.Context(), p.UserID)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) BookQueue(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := h.svc.BookQueue(c.Request.Context(), id)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) Dashboard(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	res, err := h.svc.StudentDashboard(c.Request.Context(), p.UserID)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ===== helpers =====

func principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apiErr("UNAUTHENTICATED", "sign in first"))
		return auth.Principal{}, false
	}
	return p, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, name+" must be a positive number"))
		return 0, false
	}
	return id, true
}

func pageFrom(c *gin.Context) Page {
	return Page{
		Limit:  atoiDef(c.Query("limit"), 50),
		Offset: atoiDef(c.Query("offset"), 0),
		Order:  strings.ToLower(c.DefaultQuery("order", "desc")),
	}
}

func atoiDef(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}

func nextOffset(total int64, p Page) int {
	n := p.Offset + p.Limit
	if n >= int(total) {
		return 0
	}
	return n
}

type errDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func apiErr(code Code, msg string) errDTO {
	var e errDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func apiErrFrom(err error) errDTO {
	if api, ok := err.(*APIError); ok {
		return apiErr(api.Code, api.Message)
	}
	log.Printf("[ERROR] circulation: %v", err)
	return apiErr(CodeInternal, "internal error")
}
