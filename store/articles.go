package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Article statuses.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusError   = "error"
)

// Article is one ingested document. MetadataJSON and TocJSON hold the
// parser's serialized metadata and navigation tree.
type Article struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	Filename     string `json:"filename"`
	Format       string `json:"format"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Progress     int    `json:"progress"`
	WordCount    int    `json:"word_count"`
	PageCount    int    `json:"page_count"`
	Fingerprint  string `json:"-"`
	ContentHash  string `json:"content_hash"`
	MetadataJSON string `json:"metadata,omitempty"`
	TocJSON      string `json:"toc,omitempty"`
	Markdown     string `json:"markdown,omitempty"`
	PlainText    string `json:"-"`
	Cover        []byte `json:"-"`
	CoverType    string `json:"-"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Insert adds a new article row, defaulting status to pending.
func (s *Store) Insert(ctx context.Context, a *Article) error {
	now := time.Now().UnixMilli()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	if a.UpdatedAt == 0 {
		a.UpdatedAt = now
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.MetadataJSON == "" {
		a.MetadataJSON = "{}"
	}
	if a.TocJSON == "" {
		a.TocJSON = "[]"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO articles (id, title, author, filename, format, status, error,
		progress, word_count, page_count, fingerprint, content_hash,
		metadata_json, toc_json, markdown, plain_text, cover, cover_type,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Author, a.Filename, a.Format, a.Status, a.Error,
		a.Progress, a.WordCount, a.PageCount, a.Fingerprint, a.ContentHash,
		a.MetadataJSON, a.TocJSON, a.Markdown, a.PlainText, a.Cover, a.CoverType,
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

const articleCols = `id, title, author, filename, format, status, error,
	progress, word_count, page_count, fingerprint, content_hash,
	metadata_json, toc_json, markdown, plain_text, cover_type,
	created_at, updated_at`

// Get retrieves an article by ID, nil when absent. The cover blob is
// not loaded; use Cover for it.
func (s *Store) Get(ctx context.Context, id string) (*Article, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+articleCols+` FROM articles WHERE id = ?`, id)
	return scanArticle(row)
}

// GetByHash finds the newest article with the given content hash.
func (s *Store) GetByHash(ctx context.Context, hash string) (*Article, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+articleCols+` FROM articles
		WHERE content_hash = ? ORDER BY created_at DESC LIMIT 1`, hash)
	return scanArticle(row)
}

// List returns article summaries, newest first. Markdown and text are
// left empty.
func (s *Store) List(ctx context.Context) ([]*Article, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, title, author, filename, format, status, error,
		progress, word_count, page_count, content_hash, created_at, updated_at
		FROM articles ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Author, &a.Filename, &a.Format,
			&a.Status, &a.Error, &a.Progress, &a.WordCount, &a.PageCount,
			&a.ContentHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Cover returns the cover blob and media type, nil when the article
// has none.
func (s *Store) Cover(ctx context.Context, id string) ([]byte, string, error) {
	var data []byte
	var typ string
	err := s.DB.QueryRowContext(ctx,
		`SELECT cover, cover_type FROM articles WHERE id = ?`, id).Scan(&data, &typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return data, typ, nil
}

// SetProgress patches the run state of an article.
func (s *Store) SetProgress(ctx context.Context, id, status string, progress int, errMsg string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE articles SET status=?, progress=?, error=?, updated_at=? WHERE id=?`,
		status, progress, errMsg, time.Now().UnixMilli(), id)
	return err
}

// SetResult stores the parse outcome and flips the article to ready.
func (s *Store) SetResult(ctx context.Context, a *Article) error {
	a.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE articles SET title=?, author=?, format=?, status=?, error='',
		progress=100, word_count=?, page_count=?, fingerprint=?, content_hash=?,
		metadata_json=?, toc_json=?, markdown=?, plain_text=?, cover=?, cover_type=?,
		updated_at=?
		WHERE id=?`,
		a.Title, a.Author, a.Format, StatusReady,
		a.WordCount, a.PageCount, a.Fingerprint, a.ContentHash,
		a.MetadataJSON, a.TocJSON, a.Markdown, a.PlainText, a.Cover, a.CoverType,
		a.UpdatedAt, a.ID)
	return err
}

// Delete removes an article.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM articles WHERE id=?`, id)
	return err
}

func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	err := row.Scan(&a.ID, &a.Title, &a.Author, &a.Filename, &a.Format,
		&a.Status, &a.Error, &a.Progress, &a.WordCount, &a.PageCount,
		&a.Fingerprint, &a.ContentHash, &a.MetadataJSON, &a.TocJSON,
		&a.Markdown, &a.PlainText, &a.CoverType, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
