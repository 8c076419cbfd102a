package export

import (
	"bytes"
	"embed"
	"html/template"
	"math"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/geom"
)

//go:embed templates/*.html
var templateFS embed.FS

var boardTemplate = template.Must(template.ParseFS(templateFS, "templates/board.html"))

// margin is the padding around the outermost objects.
const margin = 40.0

// TemplateData holds data for board template rendering
type TemplateData struct {
	Name   string
	Width  float64
	Height float64
	Items  []TemplateItem
}

// TemplateItem is one positioned object, in back-to-front order.
type TemplateItem struct {
	Kind       string
	Left       float64
	Top        float64
	Width      float64
	Height     float64
	Text       string
	Border     template.CSS
	Background template.CSS
}

// Layout resolves every object to page coordinates. Objects whose parent is
// missing are skipped, and cursors are never exported.
func Layout(board Board) TemplateData {
	abs := canvas.AbsolutePositions(board.Objects)

	var byKind = map[canvas.Kind][]canvas.Object{}
	for _, obj := range board.Objects {
		if _, ok := abs[obj.ID]; !ok || obj.Kind == canvas.KindCursor {
			continue
		}
		byKind[obj.Kind] = append(byKind[obj.Kind], obj)
	}
	ordered := canvas.ApplyZOrder(byKind[canvas.KindZone], byKind[canvas.KindPinned], byKind[canvas.KindNote], byKind[canvas.KindComment], nil)

	data := TemplateData{Name: board.Name, Items: make([]TemplateItem, 0, len(ordered))}
	if len(ordered) == 0 {
		data.Width, data.Height = 2*margin, 2*margin
		return data
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, obj := range ordered {
		box := obj.Box(abs[obj.ID])
		minX, minY = math.Min(minX, box.X), math.Min(minY, box.Y)
		maxX, maxY = math.Max(maxX, box.X+box.Width), math.Max(maxY, box.Y+box.Height)
	}
	origin := geom.Point{X: minX - margin, Y: minY - margin}
	data.Width = maxX - origin.X + margin
	data.Height = maxY - origin.Y + margin

	for _, obj := range ordered {
		pos := geom.ToRelative(abs[obj.ID], origin)
		w, h := obj.Size()
		item := TemplateItem{Kind: string(obj.Kind), Left: pos.X, Top: pos.Y, Width: w, Height: h}
		switch obj.Kind {
		case canvas.KindZone:
			item.Text = obj.Zone.Label
			item.Border = cssColor(obj.Zone.BorderColor)
			item.Background = cssColor(obj.Zone.BackgroundColor)
		case canvas.KindPinned:
			item.Text = firstNonEmpty(obj.Pinned.Title, obj.Pinned.EntityID)
		case canvas.KindNote:
			item.Text = obj.Note.Content
		case canvas.KindComment:
			item.Text = obj.Comment.Body
			item.Width, item.Height = 0, 0
		case canvas.KindCursor:
		}
		data.Items = append(data.Items, item)
	}
	return data
}

// RenderBoardHTML renders the board template with provided data
func RenderBoardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// cssColor passes through plain color values only.
func cssColor(c string) template.CSS {
	for _, r := range c {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '#':
		default:
			return ""
		}
	}
	return template.CSS(c)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
