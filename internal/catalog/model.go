package catalog

import (
	"fmt"
	"strings"
	"time"
)

type Language string

const (
	LangKazakh  Language = "kk"
	LangRussian Language = "ru"
	LangEnglish Language = "en"
)

func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return LangRussian, nil
	case LangKazakh:
		return LangKazakh, nil
	case LangRussian:
		return LangRussian, nil
	case LangEnglish:
		return LangEnglish, nil
	}
	return "", fmt.Errorf("unknown language %q", s)
}

// StatusAvailable mirrors the circulation state of a shelved copy; new
// copies always start here.
const StatusAvailable = "available"

type Book struct {
	ID        int64     `db:"book_id"`
	Title     string    `db:"title"`
	ISBN      string    `db:"isbn"`
	Summary   string    `db:"summary"`
	CoverPath *string   `db:"cover_path"`
	Language  Language  `db:"language"`
	DateAdded time.Time `db:"date_added"`
}

type Author struct {
	ID        int64  `db:"author_id"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Bio       string `db:"bio"`
}

func (a Author) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

type Genre struct {
	ID   int64  `db:"genre_id"`
	Name string `db:"name"`
}

type GenreCount struct {
	Genre
	BookCount int64 `db:"book_count"`
}

// Instance is one physical copy. Status is owned by circulation; the
// catalog only creates copies and reads their status.
type Instance struct {
	ID              string `db:"instance_id"`
	BookID          int64  `db:"book_id"`
	InventoryNumber string `db:"inventory_number"`
	Status          string `db:"status"`
	QRCodePath      string `db:"qr_code_path"`
	ConditionNotes  string `db:"condition_notes"`
}

// Copies holds the derived counts for a book.
type Copies struct {
	Total     int64 `db:"total_copies"`
	Available int64 `db:"available_copies"`
}

// normalized clamps the counts so Available <= Total holds even if the
// two were read from separate snapshots.
func (c Copies) normalized() Copies {
	if c.Total < 0 {
		c.Total = 0
	}
	if c.Available < 0 {
		c.Available = 0
	}
	if c.Available > c.Total {
		c.Available = c.Total
	}
	return c
}

// BookRow is one search hit with its authors and counts.
type BookRow struct {
	Book
	Authors *string `db:"authors"`
	Copies
}

// LabelSource is the data printed on one label.
type LabelSource struct {
	InventoryNumber string `db:"inventory_number"`
	Title           string `db:"title"`
}
