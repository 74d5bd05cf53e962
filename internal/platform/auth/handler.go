package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

// RegisterPublicRoutes mounts login and self-registration.
func RegisterPublicRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/login", h.Login)
	r.POST("/register", h.Register)
}

// RegisterUserRoutes mounts routes for any authenticated caller.
func RegisterUserRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/me", h.Me)
	r.PATCH("/me", h.UpdateMe)
}

// RegisterStaffRoutes mounts account management for librarians.
func RegisterStaffRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/accounts", h.CreateAccount)
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	StudentID string `json:"student_id"`
	Phone     string `json:"phone"`
}

type CreateAccountRequest struct {
	RegisterRequest
	Role string `json:"role"`
}

type UpdateProfileRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	StudentID *string `json:"student_id,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

type UserResponse struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	StudentID string    `json:"student_id,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(u *User) UserResponse {
	_, sid, phone := profileColumns(u.Profile)
	return UserResponse{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role(),
		StudentID: sid,
		Phone:     phone,
		CreatedAt: u.CreatedAt,
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json or missing required fields")
		return
	}

	token, u, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": toResponse(u)})
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json or missing required fields")
		return
	}
	h.create(c, req, RoleStudent)
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json or missing required fields")
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.create(c, req.RegisterRequest, role)
}

func (h *Handler) create(c *gin.Context, req RegisterRequest, role Role) {
	u, err := h.svc.Register(c.Request.Context(), NewUserInput{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Role:      role,
		StudentID: req.StudentID,
		Phone:     req.Phone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(u))
}

func (h *Handler) Me(c *gin.Context) {
	p, _ := CurrentPrincipal(c)
	u, err := h.svc.Get(c.Request.Context(), p.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(u))
}

func (h *Handler) UpdateMe(c *gin.Context) {
	p, _ := CurrentPrincipal(c)
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json")
		return
	}
	u, err := h.svc.UpdateProfile(c.Request.Context(), p.UserID, UpdateProfileInput(req))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(u))
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrDisabled):
		writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid username or password")
	case errors.Is(err, ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "user not found")
	case errors.Is(err, ErrAlreadyExists):
		writeError(c, http.StatusConflict, "CONFLICT", "username already exists")
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}
