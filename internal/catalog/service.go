package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"steppe-library/internal/platform/db"
	"steppe-library/internal/platform/media"
	"steppe-library/internal/qrlabel"
)

const (
	maxISBNLen   = 13
	maxTitleLen  = 300
	maxCodeLen   = 50
	maxPageLimit = 100
)

var coverExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

type Service struct {
	repo     Repository
	media    *media.Store
	qr       *qrlabel.Generator
	pageSize int
	newID    func() uuid.UUID
}

func NewService(repo Repository, store *media.Store, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 12
	}
	return &Service{
		repo:     repo,
		media:    store,
		qr:       qrlabel.NewGenerator(store),
		pageSize: pageSize,
		newID:    uuid.New,
	}
}

func (s *Service) PageSize() int { return s.pageSize }

func (s *Service) normalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = s.pageSize
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ===== books =====

func (s *Service) SearchBooks(ctx context.Context, q SearchQuery, p Page) ([]BookResponse, int64, Page, error) {
	p = s.normalizePage(p)
	// case and accents are left to the tables' _ai_ci collation
	q.Text = strings.TrimSpace(q.Text)
	rows, total, err := s.repo.SearchBooks(ctx, q, p)
	if err != nil {
		return nil, 0, p, err
	}
	out := make([]BookResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToResponse(r))
	}
	return out, total, p, nil
}

func rowToResponse(r BookRow) BookResponse {
	authors := ""
	if r.Authors != nil {
		authors = *r.Authors
	}
	return toBookResponse(r.Book, authors, r.Copies)
}

func (s *Service) GetBook(ctx context.Context, id int64) (BookDetailResponse, error) {
	row, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return BookDetailResponse{}, err
	}
	if row == nil {
		return BookDetailResponse{}, ErrNotFound("book not found")
	}

	authors, err := s.repo.BookAuthors(ctx, id)
	if err != nil {
		return BookDetailResponse{}, err
	}
	genres, err := s.repo.BookGenres(ctx, id)
	if err != nil {
		return BookDetailResponse{}, err
	}
	instances, err := s.repo.BookInstances(ctx, id)
	if err != nil {
		return BookDetailResponse{}, err
	}

	out := BookDetailResponse{
		BookResponse: rowToResponse(*row),
		AuthorList:   make([]AuthorResponse, 0, len(authors)),
		Genres:       make([]GenreResponse, 0, len(genres)),
		Instances:    make([]InstanceResponse, 0, len(instances)),
	}
	for _, a := range authors {
		out.AuthorList = append(out.AuthorList, toAuthorResponse(a))
	}
	for _, g := range genres {
		out.Genres = append(out.Genres, GenreResponse{GenreID: g.ID, Name: g.Name})
	}
	for _, in := range instances {
		out.Instances = append(out.Instances, toInstanceResponse(in))
	}
	return out, nil
}

func (s *Service) CreateBook(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	title := strings.TrimSpace(in.Title)
	isbn := strings.ReplaceAll(strings.TrimSpace(in.ISBN), "-", "")
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return BookResponse{}, ErrInvalid("title must be 1..300 characters")
	}
	if isbn == "" || len(isbn) > maxISBNLen {
		return BookResponse{}, ErrInvalid("isbn must be 1..13 characters")
	}
	lang, err := ParseLanguage(in.Language)
	if err != nil {
		return BookResponse{}, ErrInvalid(err.Error())
	}

	b := &Book{Title: title, ISBN: isbn, Summary: strings.TrimSpace(in.Summary), Language: lang}
	if err := s.repo.CreateBook(ctx, b, dedupe(in.AuthorIDs), dedupe(in.GenreIDs)); err != nil {
		switch {
		case db.IsDuplicate(err):
			return BookResponse{}, ErrConflict("isbn already exists")
		case db.IsForeignKeyViolation(err):
			return BookResponse{}, ErrInvalid("unknown author_ids or genre_ids")
		}
		return BookResponse{}, err
	}
	log.Printf("[INFO] book created id=%d isbn=%s", b.ID, b.ISBN)
	return toBookResponse(*b, "", Copies{}), nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UploadCover stores the image under covers/ and points the book at it.
func (s *Service) UploadCover(ctx context.Context, bookID int64, filename string, r io.Reader) (BookResponse, error) {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := coverExts[ext]; !ok {
		return BookResponse{}, ErrInvalid("cover must be a jpg, png or webp image")
	}
	row, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return BookResponse{}, err
	}
	if row == nil {
		return BookResponse{}, ErrNotFound("book not found")
	}

	rel, err := s.media.Save(fmt.Sprintf("covers/book_%d_%s%s", bookID, s.newID().String()[:8], ext), r)
	if err != nil {
		return BookResponse{}, err
	}
	if err := s.repo.SetCover(ctx, bookID, rel); err != nil {
		return BookResponse{}, err
	}
	row.CoverPath = &rel
	return rowToResponse(*row), nil
}

// ===== authors =====

func (s *Service) GetAuthor(ctx context.Context, id int64) (AuthorDetailResponse, error) {
	a, err := s.repo.GetAuthor(ctx, id)
	if err != nil {
		return AuthorDetailResponse{}, err
	}
	if a == nil {
		return AuthorDetailResponse{}, ErrNotFound("author not found")
	}
	books, err := s.repo.AuthorBooks(ctx, id)
	if err != nil {
		return AuthorDetailResponse{}, err
	}
	out := AuthorDetailResponse{AuthorResponse: toAuthorResponse(*a), Books: make([]BookResponse, 0, len(books))}
	for _, b := range books {
		out.Books = append(out.Books, rowToResponse(b))
	}
	return out, nil
}

func (s *Service) ListAuthors(ctx context.Context, p Page) ([]AuthorResponse, int64, Page, error) {
	p = s.normalizePage(p)
	items, total, err := s.repo.ListAuthors(ctx, p)
	if err != nil {
		return nil, 0, p, err
	}
	out := make([]AuthorResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAuthorResponse(a))
	}
	return out, total, p, nil
}

func (s *Service) CreateAuthor(ctx context.Context, in CreateAuthorRequest) (AuthorResponse, error) {
	a := &Author{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Bio:       strings.TrimSpace(in.Bio),
	}
	if a.FirstName == "" || a.LastName == "" {
		return AuthorResponse{}, ErrInvalid("first_name and last_name are required")
	}
	if err := s.repo.CreateAuthor(ctx, a); err != nil {
		return AuthorResponse{}, err
	}
	return toAuthorResponse(*a), nil
}

// ===== genres =====

func (s *Service) ListGenres(ctx context.Context) ([]GenreResponse, error) {
	items, err := s.repo.ListGenres(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GenreResponse, 0, len(items))
	for _, g := range items {
		out = append(out, GenreResponse{GenreID: g.ID, Name: g.Name, BookCount: g.BookCount})
	}
	return out, nil
}

func (s *Service) CreateGenre(ctx context.Context, in CreateGenreRequest) (GenreResponse, error) {
	g := &Genre{Name: strings.TrimSpace(in.Name)}
	if g.Name == "" {
		return GenreResponse{}, ErrInvalid("name is required")
	}
	if err := s.repo.CreateGenre(ctx, g); err != nil {
		if db.IsDuplicate(err) {
			return GenreResponse{}, ErrConflict("genre already exists")
		}
		return GenreResponse{}, err
	}
	return GenreResponse{GenreID: g.ID, Name: g.Name}, nil
}

// ===== instances =====

// AddInstance registers a physical copy. Without an explicit inventory
// number the code is derived from the new instance id. The QR artifact
// is written once here; a failure to write it is logged and retried
// lazily by InstanceQR.
func (s *Service) AddInstance(ctx context.Context, bookID int64, in AddInstanceRequest) (InstanceResponse, error) {
	row, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return InstanceResponse{}, err
	}
	if row == nil {
		return InstanceResponse{}, ErrNotFound("book not found")
	}

	id := s.newID()
	code := qrlabel.InventoryCode(id)
	if in.InventoryNumber != nil {
		code = strings.TrimSpace(qrlabel.StripPrefix(*in.InventoryNumber))
		if code == "" || len(code) > maxCodeLen {
			return InstanceResponse{}, ErrInvalid("inventory_number must be 1..50 characters")
		}
	}

	inst := &Instance{
		ID:              id.String(),
		BookID:          bookID,
		InventoryNumber: code,
		Status:          StatusAvailable,
		ConditionNotes:  strings.TrimSpace(in.ConditionNotes),
	}
	if err := s.repo.CreateInstance(ctx, inst); err != nil {
		if db.IsDuplicate(err) {
			return InstanceResponse{}, ErrConflict("inventory_number already exists")
		}
		return InstanceResponse{}, err
	}

	if p, err := s.qr.Ensure(inst.InventoryNumber, ""); err != nil {
		log.Printf("[WARN] qr artifact for %s not written: %v", inst.InventoryNumber, err)
	} else if err := s.repo.SetInstanceQRPath(ctx, inst.ID, p); err != nil {
		log.Printf("[WARN] qr path for %s not saved: %v", inst.InventoryNumber, err)
	} else {
		inst.QRCodePath = p
	}
	return toInstanceResponse(*inst), nil
}

// InstanceQR returns the PNG bytes of a copy's QR code, writing the
// artifact first if it is missing.
func (s *Service) InstanceQR(ctx context.Context, code string) ([]byte, error) {
	code = qrlabel.StripPrefix(code)
	inst, err := s.repo.GetInstanceByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, ErrNotFound("instance not found")
	}

	existing := inst.QRCodePath
	if existing != "" && !s.media.Exists(existing) {
		existing = ""
	}
	p, err := s.qr.Ensure(inst.InventoryNumber, existing)
	if err != nil {
		return nil, err
	}
	if p != inst.QRCodePath {
		if err := s.repo.SetInstanceQRPath(ctx, inst.ID, p); err != nil {
			return nil, err
		}
	}

	f, err := s.media.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open qr artifact: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// LabelSheet renders the checked items as a CSV label sheet. Every
// requested code must exist.
func (s *Service) LabelSheet(ctx context.Context, in LabelBatchRequest) ([]byte, error) {
	codes := make([]string, 0, len(in.Items))
	for i := range in.Items {
		in.Items[i].InventoryNumber = qrlabel.StripPrefix(in.Items[i].InventoryNumber)
		codes = append(codes, in.Items[i].InventoryNumber)
	}
	sources, err := s.repo.LabelSources(ctx, codes)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(sources))
	for _, src := range sources {
		titles[src.InventoryNumber] = src.Title
	}

	rows := make([]qrlabel.LabelRow, 0, len(in.Items))
	for _, it := range in.Items {
		title, ok := titles[it.InventoryNumber]
		if !ok {
			return nil, ErrNotFound("instance not found: " + it.InventoryNumber)
		}
		rows = append(rows, qrlabel.LabelRow{Checked: it.Checked, Title: title, InventoryNumber: it.InventoryNumber})
	}

	var buf bytes.Buffer
	if err := qrlabel.WriteSheet(&buf, rows); err != nil {
		if errors.Is(err, qrlabel.ErrNoPrintableSelected) {
			return nil, ErrInvalid("no labels checked")
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
