package store

import (
	"bytes"
	"context"
	"testing"
)

func TestInsertGet(t *testing.T) {
	// WHAT: A freshly inserted article round-trips with pending
	// defaults filled in.
	s := OpenMemory(t)
	ctx := context.Background()

	if err := s.Insert(ctx, &Article{ID: "a1", Filename: "book.epub"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	a, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a == nil {
		t.Fatal("article not found")
	}
	if a.Status != StatusPending || a.Progress != 0 {
		t.Errorf("status=%q progress=%d", a.Status, a.Progress)
	}
	if a.MetadataJSON != "{}" || a.TocJSON != "[]" {
		t.Errorf("json defaults: %q %q", a.MetadataJSON, a.TocJSON)
	}
	if a.CreatedAt == 0 || a.UpdatedAt == 0 {
		t.Error("timestamps not set")
	}
}

func TestGet_Missing(t *testing.T) {
	// WHAT: Missing rows yield nil, not an error.
	s := OpenMemory(t)
	a, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a != nil {
		t.Errorf("got %+v", a)
	}
}

func TestSetProgressAndResult(t *testing.T) {
	// WHAT: Progress patches land, then SetResult flips the article to
	// ready with the parse outcome.
	s := OpenMemory(t)
	ctx := context.Background()
	if err := s.Insert(ctx, &Article{ID: "a1", Filename: "r.pdf"}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetProgress(ctx, "a1", StatusPending, 40, ""); err != nil {
		t.Fatalf("progress: %v", err)
	}
	a, _ := s.Get(ctx, "a1")
	if a.Progress != 40 {
		t.Errorf("progress = %d", a.Progress)
	}

	cover := []byte{0xff, 0xd8, 0xff}
	err := s.SetResult(ctx, &Article{
		ID: "a1", Title: "Report", Author: "Jane", Format: "pdf",
		WordCount: 1200, PageCount: 12, ContentHash: "abc123",
		MetadataJSON: `{"title":"Report"}`, TocJSON: `[{"title":"Intro"}]`,
		Markdown: "# Report", PlainText: "Report", Cover: cover, CoverType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("set result: %v", err)
	}
	a, _ = s.Get(ctx, "a1")
	if a.Status != StatusReady || a.Progress != 100 || a.Title != "Report" || a.WordCount != 1200 {
		t.Errorf("after result: %+v", a)
	}

	data, typ, err := s.Cover(ctx, "a1")
	if err != nil {
		t.Fatalf("cover: %v", err)
	}
	if !bytes.Equal(data, cover) || typ != "image/jpeg" {
		t.Errorf("cover = %v %q", data, typ)
	}
}

func TestSetProgress_Error(t *testing.T) {
	// WHAT: A failed run records status error plus the message.
	s := OpenMemory(t)
	ctx := context.Background()
	s.Insert(ctx, &Article{ID: "a1"})
	if err := s.SetProgress(ctx, "a1", StatusError, 40, "stage extraction: boom"); err != nil {
		t.Fatal(err)
	}
	a, _ := s.Get(ctx, "a1")
	if a.Status != StatusError || a.Error == "" {
		t.Errorf("article = %+v", a)
	}
}

func TestGetByHash(t *testing.T) {
	// WHAT: Hash lookup returns the newest match, enabling dedupe on
	// re-upload.
	s := OpenMemory(t)
	ctx := context.Background()
	s.Insert(ctx, &Article{ID: "old", ContentHash: "h1", CreatedAt: 100, UpdatedAt: 100})
	s.Insert(ctx, &Article{ID: "new", ContentHash: "h1", CreatedAt: 200, UpdatedAt: 200})
	s.Insert(ctx, &Article{ID: "other", ContentHash: "h2", CreatedAt: 300, UpdatedAt: 300})

	a, err := s.GetByHash(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.ID != "new" {
		t.Errorf("got %+v", a)
	}
	if a, _ := s.GetByHash(ctx, "h3"); a != nil {
		t.Errorf("phantom match: %+v", a)
	}
}

func TestListAndDelete(t *testing.T) {
	// WHAT: List returns newest first without heavy columns; Delete
	// removes the row.
	s := OpenMemory(t)
	ctx := context.Background()
	s.Insert(ctx, &Article{ID: "a", Markdown: "# big", CreatedAt: 100, UpdatedAt: 100})
	s.Insert(ctx, &Article{ID: "b", CreatedAt: 200, UpdatedAt: 200})

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("list = %+v", list)
	}
	if list[1].Markdown != "" {
		t.Error("list loaded markdown")
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if a, _ := s.Get(ctx, "a"); a != nil {
		t.Error("article survived delete")
	}
}
