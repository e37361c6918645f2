package render_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/durable/reportgen"
	"github.com/andrewwormald/durable/reportgen/render"
)

func TestRender(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := render.NewPDF()

	item := reportgen.WorkItem{ID: "A", Name: "Alice", Score: 9.25}

	data, err := r.Render(ctx, item)
	require.Nil(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	require.True(t, bytes.HasSuffix(data, []byte("%%EOF\n")))
	require.Contains(t, string(data), "ID: A")
	require.Contains(t, string(data), "Name: Alice")
	require.Contains(t, string(data), "Score: 9.25")

	// Same item renders the same bytes, so archive overwrites converge.
	again, err := r.Render(ctx, item)
	require.Nil(t, err)
	require.Equal(t, data, again)
}

func TestRenderEscapesText(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := render.NewPDF()

	data, err := r.Render(ctx, reportgen.WorkItem{ID: "A", Name: `Alice (\strange)`, Score: 1})
	require.Nil(t, err)
	require.Contains(t, string(data), `Alice \(\\strange\)`)
}

func TestRenderRequiresID(t *testing.T) {
	t.Parallel()

	r := render.NewPDF()

	_, err := r.Render(context.Background(), reportgen.WorkItem{Name: "Nobody"})
	require.NotNil(t, err)
}

func TestRenderTitle(t *testing.T) {
	t.Parallel()

	r := &render.PDF{Title: "Term Results"}

	data, err := r.Render(context.Background(), reportgen.WorkItem{ID: "A", Name: "Alice", Score: 5})
	require.Nil(t, err)
	require.Contains(t, string(data), "Term Results")
}
