package sharecard

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"os"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/zispr/zispr-server/cmd/models"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
)

// Card geometry is fixed; the output layout is deterministic for a given
// post snapshot.
const (
	CardWidth  = 1200
	CardHeight = 630
	avatarSize = 96
	marginX    = 72
)

// Renderer rasterizes a post into a share card. The TrueType font is parsed
// once at construction so rendering never depends on fonts installed
// wherever the image ends up being viewed. Every failure — font, avatar
// fetch, decode — fails the whole render: a partially drawn card is worse
// than none.
type Renderer struct {
	font   *truetype.Font
	client *http.Client
}

func NewRenderer(fontPath string) (*Renderer, error) {
	data, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Renderer{
		font:   f,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (r *Renderer) face(size float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{Size: size})
}

// Render composes the card and returns PNG bytes. The avatar is fetched and
// inlined before any drawing starts, so composition itself needs no network.
func (r *Renderer) Render(ctx context.Context, post *models.Post, author *models.User) ([]byte, error) {
	var avatar image.Image
	if author.AvatarURL != "" {
		img, err := r.fetchAvatar(ctx, author.AvatarURL)
		if err != nil {
			return nil, fmt.Errorf("fetch avatar: %w", err)
		}
		avatar = scaleSquare(img, avatarSize)
	}

	dc := gg.NewContext(CardWidth, CardHeight)

	dc.SetHexColor("#0f1419")
	dc.Clear()
	dc.SetHexColor("#192734")
	dc.DrawRoundedRectangle(40, 40, CardWidth-80, CardHeight-80, 24)
	dc.Fill()

	avatarX, avatarY := float64(marginX+avatarSize/2), 130.0
	if avatar != nil {
		dc.Push()
		dc.DrawCircle(avatarX, avatarY, avatarSize/2)
		dc.Clip()
		dc.DrawImageAnchored(avatar, int(avatarX), int(avatarY), 0.5, 0.5)
		dc.Pop()
	} else {
		dc.SetHexColor("#1d9bf0")
		dc.DrawCircle(avatarX, avatarY, avatarSize/2)
		dc.Fill()
		dc.SetHexColor("#ffffff")
		dc.SetFontFace(r.face(42))
		dc.DrawStringAnchored(initial(author.DisplayName), avatarX, avatarY, 0.5, 0.5)
	}

	textX := float64(marginX + avatarSize + 28)
	dc.SetHexColor("#ffffff")
	dc.SetFontFace(r.face(34))
	dc.DrawString(author.DisplayName, textX, avatarY-8)
	if author.VerifiedTier != "" {
		nameW, _ := dc.MeasureString(author.DisplayName)
		dc.SetHexColor("#1d9bf0")
		dc.DrawCircle(textX+nameW+22, avatarY-19, 13)
		dc.Fill()
	}
	dc.SetHexColor("#8899a6")
	dc.SetFontFace(r.face(27))
	dc.DrawString(author.Handle, textX, avatarY+28)

	dc.SetHexColor("#ffffff")
	dc.SetFontFace(r.face(32))
	dc.DrawStringWrapped(truncate(post.Content, 280), marginX, 220, 0, 0, CardWidth-2*marginX, 1.45, gg.AlignLeft)

	stats := fmt.Sprintf("%d likes   %d reposts   %d comments",
		len(post.LikedBy), len(post.RepostedBy), post.CommentCount)
	dc.SetHexColor("#8899a6")
	dc.SetFontFace(r.face(25))
	dc.DrawString(stats, marginX, CardHeight-110)
	dc.DrawString(post.CreatedAt.Format("3:04 PM · Jan 2, 2006"), marginX, CardHeight-72)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) fetchAvatar(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar fetch returned %d", resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func scaleSquare(src image.Image, size int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

func initial(name string) string {
	for _, r := range name {
		return string(r)
	}
	return "?"
}
