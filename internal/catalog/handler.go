package catalog

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

// RegisterPublicRoutes mounts the browse endpoints.
func RegisterPublicRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/books", h.SearchBooks)
	r.GET("/books/:id", h.GetBook)
	r.GET("/authors", h.ListAuthors)
	r.GET("/authors/:id", h.GetAuthor)
	r.GET("/genres", h.ListGenres)
}

// RegisterStaffRoutes mounts librarian-only catalog management.
func RegisterStaffRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/books", h.CreateBook)
	r.POST("/books/:id/cover", h.UploadCover)
	r.POST("/books/:id/instances", h.AddInstance)
	r.POST("/authors", h.CreateAuthor)
	r.POST("/genres", h.CreateGenre)
	r.GET("/instances/:code/qr", h.InstanceQR)
	r.POST("/labels/batch", h.LabelBatch)
}

// ===== books =====

// SearchBooks godoc
// @Summary  Search the catalog
// @Tags     catalog
// @Produce  json
// @Param    q          query string false "title, author or ISBN substring"
// @Param    genre      query int    false "genre id"
// @Param    language   query string false "kk, ru or en"
// @Param    available  query bool   false "only books with a free copy"
// @Param    limit      query int    false "page size"
// @Param    offset     query int    false "offset"
// @Success  200 {object} map[string]any
// @Router   /books [get]
func (h *Handler) SearchBooks(c *gin.Context) {
	var q SearchQuery
	q.Text = c.Query("q")
	if v := c.Query("genre"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "genre must be a number"))
			return
		}
		q.GenreID = &id
	}
	if v := c.Query("language"); v != "" {
		lang, err := ParseLanguage(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, err.Error()))
			return
		}
		q.Language = &lang
	}
	q.AvailableOnly = c.Query("available") == "true" || c.Query("available") == "1"

	p := Page{
		Limit:  atoiDef(c.Query("limit"), 0),
		Offset: atoiDef(c.Query("offset"), 0),
		Order:  strings.ToLower(c.DefaultQuery("order", "asc")),
	}
	items, total, p, err := h.svc.SearchBooks(c.Request.Context(), q, p)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "next_offset": nextOffset(total, p)})
}

func (h *Handler) GetBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.GetBook(c.Request.Context(), id)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CreateBook(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.Header("Location", "/api/v1/books/"+strconv.FormatInt(res.BookID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) UploadCover(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	fh, err := c.FormFile("cover")
	if err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "multipart field 'cover' is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "cannot read upload"))
		return
	}
	defer f.Close()

	res, err := h.svc.UploadCover(c.Request.Context(), id, fh.Filename, f)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ===== authors / genres =====

func (h *Handler) ListAuthors(c *gin.Context) {
	p := Page{
		Limit:  atoiDef(c.Query("limit"), 0),
		Offset: atoiDef(c.Query("offset"), 0),
		Order:  strings.ToLower(c.DefaultQuery("order", "asc")),
	}
	items, total, p, err := h.svc.ListAuthors(c.Request.Context(), p)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "next_offset": nextOffset(total, p)})
}

func (h *Handler) GetAuthor(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.GetAuthor(c.Request.Context(), id)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CreateAuthor(c *gin.Context) {
	var req CreateAuthorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CreateAuthor(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListGenres(c *gin.Context) {
	items, err := h.svc.ListGenres(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) CreateGenre(c *gin.Context) {
	var req CreateGenreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CreateGenre(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ===== instances / labels =====

func (h *Handler) AddInstance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req AddInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.AddInstance(c.Request.Context(), id, req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) InstanceQR(c *gin.Context) {
	png, err := h.svc.InstanceQR(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) LabelBatch(c *gin.Context) {
	var req LabelBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("LabelBatch: bind error: %v", err)
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, "invalid json"))
		return
	}
	sheet, err := h.svc.LabelSheet(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), apiErrFrom(err))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="labels.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", sheet)
}

// ===== helpers =====

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apiErr(CodeInvalidArgument, name+" must be a positive number"))
		return 0, false
	}
	return id, true
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
	log.Printf("[ERROR] catalog: %v", err)
	return apiErr(CodeInternal, "internal error")
}
