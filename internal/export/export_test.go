package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/geom"
)

func sampleBoard() Board {
	return Board{
		ID:   "b1",
		Name: "Sprint Board",
		Objects: []canvas.Object{
			{ID: "n1", Kind: canvas.KindNote, Position: geom.Point{}, Width: 80, Height: 80, Note: &canvas.Note{Content: "remember <milk>"}},
			{ID: "p1", Kind: canvas.KindPinned, ParentID: "z1", Position: geom.Point{X: 10, Y: 20}, Width: 100, Height: 50, Pinned: &canvas.Pinned{EntityID: "wt-1", Title: "fix-login"}},
			{ID: "z1", Kind: canvas.KindZone, Position: geom.Point{X: 100, Y: 100}, Width: 200, Height: 200, Zone: &canvas.Zone{Label: "Review", BorderColor: "#ff0000", BackgroundColor: "red;position:fixed"}},
			{ID: "c1", Kind: canvas.KindComment, ParentID: "gone", Position: geom.Point{X: 1, Y: 1}, Comment: &canvas.Comment{Body: "orphan", ParentKind: canvas.KindZone}},
			{ID: "cur", Kind: canvas.KindCursor, Position: geom.Point{X: 900, Y: 900}, Cursor: &canvas.Cursor{UserID: "u1"}},
		},
	}
}

func TestLayoutOrdersAndPositionsObjects(t *testing.T) {
	data := Layout(sampleBoard())

	if data.Width != 380 || data.Height != 380 {
		t.Fatalf("unexpected page size %vx%v", data.Width, data.Height)
	}
	if len(data.Items) != 3 {
		t.Fatalf("expected zone, card and note only, got %+v", data.Items)
	}
	kinds := []string{data.Items[0].Kind, data.Items[1].Kind, data.Items[2].Kind}
	if strings.Join(kinds, ",") != "zone,pinned,note" {
		t.Fatalf("unexpected order %v", kinds)
	}
	zone, card := data.Items[0], data.Items[1]
	if zone.Left != 140 || zone.Top != 140 {
		t.Errorf("unexpected zone offset %v,%v", zone.Left, zone.Top)
	}
	if card.Left != 150 || card.Top != 160 || card.Text != "fix-login" {
		t.Errorf("unexpected card %+v", card)
	}
	if zone.Border != "#ff0000" || zone.Background != "" {
		t.Errorf("expected only plain colors to pass, got %q %q", zone.Border, zone.Background)
	}
}

func TestLayoutEmptyBoard(t *testing.T) {
	data := Layout(Board{Name: "empty"})
	if len(data.Items) != 0 || data.Width != 2*margin {
		t.Fatalf("unexpected layout %+v", data)
	}
}

func TestRenderBoardHTMLEscapesContent(t *testing.T) {
	html, err := RenderBoardHTML(Layout(sampleBoard()))
	if err != nil {
		t.Fatalf("RenderBoardHTML() error = %v", err)
	}
	if !strings.Contains(html, "<title>Sprint Board</title>") {
		t.Error("HTML missing title")
	}
	if !strings.Contains(html, "remember &lt;milk&gt;") {
		t.Error("note content must be escaped")
	}
	if strings.Contains(html, "orphan") {
		t.Error("orphan comment must not be exported")
	}
}

type fakeStore struct {
	board Board
	err   error
}

func (f fakeStore) LoadBoard(context.Context, string) (Board, error) {
	return f.board, f.err
}

type fakeStorage struct {
	keys []string
}

func (f *fakeStorage) Put(_ context.Context, key string, _ []byte, _ string) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeStorage) Link(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.example/" + key, nil
}

func TestExportPDFUploads(t *testing.T) {
	storage := &fakeStorage{}
	svc := NewService(fakeStore{board: sampleBoard()}, storage)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	var rendered string
	svc.pdf = func(_ context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF"), nil
	}

	res, err := svc.Export(context.Background(), Request{BoardID: "b1", Format: FormatPDF, Upload: true})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if string(res.Data) != "%PDF" || res.Filename != "Sprint-Board.pdf" || res.MimeType != "application/pdf" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(rendered, "Review") {
		t.Error("pdf renderer should receive the board html")
	}
	wantKey := "boards/b1/20260102T030405Z-Sprint-Board.pdf"
	if len(storage.keys) != 1 || storage.keys[0] != wantKey {
		t.Fatalf("unexpected upload keys %v", storage.keys)
	}
	if res.URL != "https://files.example/"+wantKey || res.ExpiresAt.IsZero() {
		t.Fatalf("unexpected link %q %v", res.URL, res.ExpiresAt)
	}
}

func TestExportErrors(t *testing.T) {
	svc := NewService(fakeStore{board: sampleBoard()}, nil)
	if _, err := svc.Export(context.Background(), Request{Format: "docx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := svc.Export(context.Background(), Request{Format: FormatHTML, Upload: true}); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	res, err := svc.Export(context.Background(), Request{Format: FormatHTML})
	if err != nil || res.Filename != "Sprint-Board.html" {
		t.Fatalf("unexpected html export %+v %v", res, err)
	}

	failing := NewService(fakeStore{err: errors.New("db down")}, nil)
	if _, err := failing.Export(context.Background(), Request{Format: FormatHTML}); err == nil {
		t.Fatal("expected load error")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Board v1.2", "Board-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "board"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestChromePDFWithoutBrowser(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := ChromePDF(context.Background(), "<div class=\"board\"></div>"); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}
