package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/jmoiron/sqlx"

	"steppe-library/internal/platform/db"
)

// Repository is the catalog's view of storage. Lookups return (nil, nil)
// when the row does not exist.
type Repository interface {
	SearchBooks(ctx context.Context, q SearchQuery, p Page) ([]BookRow, int64, error)
	GetBook(ctx context.Context, id int64) (*BookRow, error)
	BookAuthors(ctx context.Context, bookID int64) ([]Author, error)
	BookGenres(ctx context.Context, bookID int64) ([]Genre, error)
	BookInstances(ctx context.Context, bookID int64) ([]Instance, error)
	CreateBook(ctx context.Context, b *Book, authorIDs, genreIDs []int64) error
	SetCover(ctx context.Context, bookID int64, path string) error

	GetAuthor(ctx context.Context, id int64) (*Author, error)
	AuthorBooks(ctx context.Context, authorID int64) ([]BookRow, error)
	ListAuthors(ctx context.Context, p Page) ([]Author, int64, error)
	CreateAuthor(ctx context.Context, a *Author) error

	ListGenres(ctx context.Context) ([]GenreCount, error)
	CreateGenre(ctx context.Context, g *Genre) error

	CreateInstance(ctx context.Context, in *Instance) error
	GetInstanceByCode(ctx context.Context, code string) (*Instance, error)
	SetInstanceQRPath(ctx context.Context, instanceID, path string) error
	LabelSources(ctx context.Context, codes []string) ([]LabelSource, error)
}

const dialectMySQL = "mysql"

var dialect = goqu.Dialect(dialectMySQL)

const (
	authorsExpr = `(SELECT GROUP_CONCAT(CONCAT(a.first_name, ' ', a.last_name) ORDER BY a.last_name SEPARATOR ', ')
	FROM book_authors ba JOIN authors a ON a.author_id = ba.author_id WHERE ba.book_id = b.book_id)`
	totalCopiesExpr     = `(SELECT COUNT(*) FROM book_instances bi WHERE bi.book_id = b.book_id)`
	availableCopiesExpr = `(SELECT COUNT(*) FROM book_instances bi WHERE bi.book_id = b.book_id AND bi.status = 'available')`
)

type Store struct{ db *sqlx.DB }

func NewStore(conn *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(conn, dialectMySQL)}
}

func bookColumns() []any {
	return []any{
		goqu.I("b.book_id"), goqu.I("b.title"), goqu.I("b.isbn"), goqu.I("b.summary"),
		goqu.I("b.cover_path"), goqu.I("b.language"), goqu.I("b.date_added"),
		goqu.L(authorsExpr).As("authors"),
		goqu.L(totalCopiesExpr).As("total_copies"),
		goqu.L(availableCopiesExpr).As("available_copies"),
	}
}

// escapeLike makes user text literal inside a LIKE pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// searchFilter builds the filtered FROM/WHERE shared by the page and
// count queries. The mysql dialect renders ILike as plain LIKE, which is
// case-insensitive under the table collation.
func searchFilter(q SearchQuery) *goqu.SelectDataset {
	ds := dialect.From(goqu.T("books").As("b")).Prepared(true)

	if q.Text != "" {
		pat := "%" + escapeLike(q.Text) + "%"
		authorMatch := dialect.From(goqu.T("book_authors").As("ba")).
			Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.author_id").Eq(goqu.I("ba.author_id")))).
			Select(goqu.L("1")).
			Where(
				goqu.I("ba.book_id").Eq(goqu.I("b.book_id")),
				goqu.Or(
					goqu.I("a.first_name").ILike(pat),
					goqu.I("a.last_name").ILike(pat),
				),
			)
		ds = ds.Where(goqu.Or(
			goqu.I("b.title").ILike(pat),
			goqu.I("b.isbn").ILike(pat),
			goqu.L("EXISTS ?", authorMatch),
		))
	}
	if q.GenreID != nil {
		genreMatch := dialect.From(goqu.T("book_genres").As("bg")).
			Select(goqu.L("1")).
			Where(goqu.I("bg.book_id").Eq(goqu.I("b.book_id")), goqu.I("bg.genre_id").Eq(*q.GenreID))
		ds = ds.Where(goqu.L("EXISTS ?", genreMatch))
	}
	if q.Language != nil {
		ds = ds.Where(goqu.I("b.language").Eq(string(*q.Language)))
	}
	if q.AvailableOnly {
		ds = ds.Where(goqu.L(availableCopiesExpr + " > 0"))
	}
	return ds
}

func buildSearchQuery(q SearchQuery, p Page) *goqu.SelectDataset {
	ds := searchFilter(q).Select(bookColumns()...)
	if strings.ToLower(p.Order) == "desc" {
		ds = ds.Order(goqu.I("b.title").Desc(), goqu.I("b.book_id").Desc())
	} else {
		ds = ds.Order(goqu.I("b.title").Asc(), goqu.I("b.book_id").Asc())
	}
	return ds.Limit(uint(p.Limit)).Offset(uint(p.Offset))
}

func buildCountQuery(q SearchQuery) *goqu.SelectDataset {
	return searchFilter(q).Select(goqu.COUNT(goqu.Star()))
}

func (s *Store) SearchBooks(ctx context.Context, q SearchQuery, p Page) ([]BookRow, int64, error) {
	query, args, err := buildSearchQuery(q, p).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build search: %w", err)
	}
	rows := []BookRow{}
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("search books: %w", err)
	}

	query, args, err = buildCountQuery(q).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int64
	if err := sqlx.GetContext(ctx, s.db, &total, query, args...); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}
	return rows, total, nil
}

func (s *Store) GetBook(ctx context.Context, id int64) (*BookRow, error) {
	query, args, err := dialect.From(goqu.T("books").As("b")).Prepared(true).
		Select(bookColumns()...).
		Where(goqu.I("b.book_id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, err
	}
	var out BookRow
	if err := sqlx.GetContext(ctx, s.db, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &out, nil
}

func (s *Store) BookAuthors(ctx context.Context, bookID int64) ([]Author, error) {
	query, args, err := dialect.From(goqu.T("authors").As("a")).Prepared(true).
		Join(goqu.T("book_authors").As("ba"), goqu.On(goqu.I("ba.author_id").Eq(goqu.I("a.author_id")))).
		Select(goqu.I("a.author_id"), goqu.I("a.first_name"), goqu.I("a.last_name"), goqu.I("a.bio")).
		Where(goqu.I("ba.book_id").Eq(bookID)).
		Order(goqu.I("a.last_name").Asc(), goqu.I("a.author_id").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}
	out := []Author{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("book authors: %w", err)
	}
	return out, nil
}

func (s *Store) BookGenres(ctx context.Context, bookID int64) ([]Genre, error) {
	query, args, err := dialect.From(goqu.T("genres").As("g")).Prepared(true).
		Join(goqu.T("book_genres").As("bg"), goqu.On(goqu.I("bg.genre_id").Eq(goqu.I("g.genre_id")))).
		Select(goqu.I("g.genre_id"), goqu.I("g.name")).
		Where(goqu.I("bg.book_id").Eq(bookID)).
		Order(goqu.I("g.name").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}
	out := []Genre{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("book genres: %w", err)
	}
	return out, nil
}

func instanceColumns() []any {
	return []any{"instance_id", "book_id", "inventory_number", "status", "qr_code_path", "condition_notes"}
}

func (s *Store) BookInstances(ctx context.Context, bookID int64) ([]Instance, error) {
	query, args, err := dialect.From("book_instances").Prepared(true).
		Select(instanceColumns()...).
		Where(goqu.C("book_id").Eq(bookID)).
		Order(goqu.C("inventory_number").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}
	out := []Instance{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("book instances: %w", err)
	}
	return out, nil
}

// CreateBook inserts the book and its author/genre links in one transaction.
func (s *Store) CreateBook(ctx context.Context, b *Book, authorIDs, genreIDs []int64) error {
	return db.RunInTx(ctx, s.db.DB, nil, func(ctx context.Context, tx db.DBTX) error {
		query, args, err := dialect.Insert("books").Prepared(true).Rows(goqu.Record{
			"title":    b.Title,
			"isbn":     b.ISBN,
			"summary":  b.Summary,
			"language": string(b.Language),
		}).ToSQL()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		b.ID = id

		if err := insertLinks(ctx, tx, "book_authors", "author_id", id, authorIDs); err != nil {
			return err
		}
		if err := insertLinks(ctx, tx, "book_genres", "genre_id", id, genreIDs); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `SELECT date_added FROM books WHERE book_id = ?`, id)
		return row.Scan(&b.DateAdded)
	})
}

func insertLinks(ctx context.Context, tx db.DBTX, table, col string, bookID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows := make([]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, goqu.Record{"book_id": bookID, col: id})
	}
	query, args, err := dialect.Insert(table).Prepared(true).Rows(rows...).ToSQL()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) SetCover(ctx context.Context, bookID int64, path string) error {
	query, args, err := dialect.Update("books").Prepared(true).
		Set(goqu.Record{"cover_path": path}).
		Where(goqu.C("book_id").Eq(bookID)).
		ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set cover: %w", err)
	}
	return nil
}

// ===== authors =====

func (s *Store) GetAuthor(ctx context.Context, id int64) (*Author, error) {
	var a Author
	err := s.db.GetContext(ctx, &a,
		`SELECT author_id, first_name, last_name, bio FROM authors WHERE author_id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get author: %w", err)
	}
	return &a, nil
}

func (s *Store) AuthorBooks(ctx context.Context, authorID int64) ([]BookRow, error) {
	query, args, err := dialect.From(goqu.T("books").As("b")).Prepared(true).
		Join(goqu.T("book_authors").As("ab"), goqu.On(goqu.I("ab.book_id").Eq(goqu.I("b.book_id")))).
		Select(bookColumns()...).
		Where(goqu.I("ab.author_id").Eq(authorID)).
		Order(goqu.I("b.title").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}
	out := []BookRow{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("author books: %w", err)
	}
	return out, nil
}

func (s *Store) ListAuthors(ctx context.Context, p Page) ([]Author, int64, error) {
	order := goqu.I("last_name").Asc()
	if strings.ToLower(p.Order) == "desc" {
		order = goqu.I("last_name").Desc()
	}
	query, args, err := dialect.From("authors").Prepared(true).
		Select("author_id", "first_name", "last_name", "bio").
		Order(order, goqu.I("author_id").Asc()).
		Limit(uint(p.Limit)).Offset(uint(p.Offset)).
		ToSQL()
	if err != nil {
		return nil, 0, err
	}
	out := []Author{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list authors: %w", err)
	}
	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM authors`); err != nil {
		return nil, 0, fmt.Errorf("count authors: %w", err)
	}
	return out, total, nil
}

func (s *Store) CreateAuthor(ctx context.Context, a *Author) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO authors (first_name, last_name, bio) VALUES (?, ?, ?)`,
		a.FirstName, a.LastName, a.Bio)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}

// ===== genres =====

func (s *Store) ListGenres(ctx context.Context) ([]GenreCount, error) {
	query, args, err := dialect.From(goqu.T("genres").As("g")).Prepared(true).
		LeftJoin(goqu.T("book_genres").As("bg"), goqu.On(goqu.I("bg.genre_id").Eq(goqu.I("g.genre_id")))).
		Select(goqu.I("g.genre_id"), goqu.I("g.name"), goqu.COUNT(goqu.I("bg.book_id")).As("book_count")).
		GroupBy(goqu.I("g.genre_id"), goqu.I("g.name")).
		Order(goqu.I("g.name").Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}
	out := []GenreCount{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	return out, nil
}

func (s *Store) CreateGenre(ctx context.Context, g *Genre) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO genres (name) VALUES (?)`, g.Name)
	if err != nil {
		return err
	}
	g.ID, err = res.LastInsertId()
	return err
}

// ===== instances =====

func (s *Store) CreateInstance(ctx context.Context, in *Instance) error {
	query, args, err := dialect.Insert("book_instances").Prepared(true).Rows(goqu.Record{
		"instance_id":      in.ID,
		"book_id":          in.BookID,
		"inventory_number": in.InventoryNumber,
		"status":           in.Status,
		"qr_code_path":     in.QRCodePath,
		"condition_notes":  in.ConditionNotes,
	}).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) GetInstanceByCode(ctx context.Context, code string) (*Instance, error) {
	query, args, err := dialect.From("book_instances").Prepared(true).
		Select(instanceColumns()...).
		Where(goqu.C("inventory_number").Eq(code)).
		ToSQL()
	if err != nil {
		return nil, err
	}
	var out Instance
	if err := sqlx.GetContext(ctx, s.db, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return &out, nil
}

func (s *Store) SetInstanceQRPath(ctx context.Context, instanceID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE book_instances SET qr_code_path = ? WHERE instance_id = ?`, path, instanceID)
	if err != nil {
		return fmt.Errorf("set qr path: %w", err)
	}
	return nil
}

func (s *Store) LabelSources(ctx context.Context, codes []string) ([]LabelSource, error) {
	if len(codes) == 0 {
		return []LabelSource{}, nil
	}
	query, args, err := dialect.From(goqu.T("book_instances").As("bi")).Prepared(true).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.book_id").Eq(goqu.I("bi.book_id")))).
		Select(goqu.I("bi.inventory_number"), goqu.I("b.title")).
		Where(goqu.I("bi.inventory_number").In(codes)).
		ToSQL()
	if err != nil {
		return nil, err
	}
	out := []LabelSource{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("label sources: %w", err)
	}
	return out, nil
}
