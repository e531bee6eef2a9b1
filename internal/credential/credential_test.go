package credential

import (
	"bytes"
	"image"
	_ "image/png"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/makiuchi-d/gozxing"
	gzqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, png []byte) string {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(png))
	require.NoError(t, err)
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)
	res, err := gzqr.NewQRCodeReader().Decode(bmp, nil)
	require.NoError(t, err)
	return res.GetText()
}

func TestGenerateRoundTrip(t *testing.T) {
	for i := 0; i < 5; i++ {
		code := uuid.New().String()
		png, err := Generate(code)
		require.NoError(t, err)
		assert.Equal(t, code, decode(t, png))
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate("7b0f5c2e-5b1b-4c55-9d0a-2f0f3b1d8e11")
	require.NoError(t, err)
	b, err := Generate("7b0f5c2e-5b1b-4c55-9d0a-2f0f3b1d8e11")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateRejectsEmpty(t *testing.T) {
	_, err := Generate("  ")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestRenderTicket(t *testing.T) {
	doc, err := RenderTicket(Ticket{
		EventName: "Año Nuevo Gala",
		Location:  "Main Hall",
		StartsAt:  time.Date(2026, 12, 31, 21, 0, 0, 0, time.UTC),
		Holder:    "ana@example.com",
		EntryCode: uuid.New().String(),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
	assert.Greater(t, len(doc), 1000)
}

func TestRenderTicketUsesStoredArtifact(t *testing.T) {
	_, err := RenderTicket(Ticket{EventName: "x", QRPNG: []byte("not a png")})
	assert.Error(t, err)
}
