package catalog

import "time"

// ===== Requests =====

type CreateBookRequest struct {
	Title     string  `json:"title" binding:"required"`
	ISBN      string  `json:"isbn" binding:"required"`
	Summary   string  `json:"summary"`
	Language  string  `json:"language"`
	AuthorIDs []int64 `json:"author_ids"`
	GenreIDs  []int64 `json:"genre_ids"`
}

type CreateAuthorRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Bio       string `json:"bio"`
}

type CreateGenreRequest struct {
	Name string `json:"name" binding:"required"`
}

type AddInstanceRequest struct {
	InventoryNumber *string `json:"inventory_number,omitempty"`
	ConditionNotes  string  `json:"condition_notes"`
}

type LabelItem struct {
	InventoryNumber string `json:"inventory_number" binding:"required"`
	Checked         bool   `json:"checked"`
}

type LabelBatchRequest struct {
	Items []LabelItem `json:"items" binding:"required"`
}

// ===== Responses =====

type BookResponse struct {
	BookID          int64     `json:"book_id"`
	Title           string    `json:"title"`
	ISBN            string    `json:"isbn"`
	Summary         string    `json:"summary,omitempty"`
	Language        Language  `json:"language"`
	CoverPath       *string   `json:"cover_path,omitempty"`
	DateAdded       time.Time `json:"date_added"`
	Authors         string    `json:"authors,omitempty"`
	TotalCopies     int64     `json:"total_copies"`
	AvailableCopies int64     `json:"available_copies"`
}

type AuthorResponse struct {
	AuthorID  int64  `json:"author_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Bio       string `json:"bio,omitempty"`
}

type GenreResponse struct {
	GenreID   int64  `json:"genre_id"`
	Name      string `json:"name"`
	BookCount int64  `json:"book_count"`
}

type InstanceResponse struct {
	InstanceID      string `json:"instance_id"`
	BookID          int64  `json:"book_id"`
	InventoryNumber string `json:"inventory_number"`
	Status          string `json:"status"`
	QRCodePath      string `json:"qr_code_path,omitempty"`
	ConditionNotes  string `json:"condition_notes,omitempty"`
}

type BookDetailResponse struct {
	BookResponse
	AuthorList []AuthorResponse   `json:"author_list"`
	Genres     []GenreResponse    `json:"genres"`
	Instances  []InstanceResponse `json:"instances"`
}

type AuthorDetailResponse struct {
	AuthorResponse
	Books []BookResponse `json:"books"`
}

// ===== Listing helpers =====

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc" on title
}

type SearchQuery struct {
	Text          string
	GenreID       *int64
	Language      *Language
	AvailableOnly bool
}

func toBookResponse(b Book, authors string, c Copies) BookResponse {
	c = c.normalized()
	return BookResponse{
		BookID:          b.ID,
		Title:           b.Title,
		ISBN:            b.ISBN,
		Summary:         b.Summary,
		Language:        b.Language,
		CoverPath:       b.CoverPath,
		DateAdded:       b.DateAdded,
		Authors:         authors,
		TotalCopies:     c.Total,
		AvailableCopies: c.Available,
	}
}

func toAuthorResponse(a Author) AuthorResponse {
	return AuthorResponse{AuthorID: a.ID, FirstName: a.FirstName, LastName: a.LastName, Bio: a.Bio}
}

func toInstanceResponse(in Instance) InstanceResponse {
	return InstanceResponse{
		InstanceID:      in.ID,
		BookID:          in.BookID,
		InventoryNumber: in.InventoryNumber,
		Status:          in.Status,
		QRCodePath:      in.QRCodePath,
		ConditionNotes:  in.ConditionNotes,
	}
}
