package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lunch-menu-bot/internal/logfields"
)

// ErrNoImage is returned when the page holds no usable menu image.
var ErrNoImage = errors.New("no menu image found on page")

const (
	MethodImage   = "img"
	MethodOGImage = "og:image"

	minSide       = 50
	maxImageBytes = 10 << 20
	userAgent     = "Mozilla/5.0 (compatible; lunch-menu-bot/1.0)"
)

// MenuImage is the downloaded menu picture.
type MenuImage struct {
	SourceURL   string
	Data        []byte
	ContentType string
	FetchedAt   time.Time
	// Method tells how the image was located.
	Method string
}

// Scraper finds the menu image on a profile page and downloads it.
type Scraper struct {
	client *http.Client
	now    func() time.Time
}

// New creates a Scraper. A nil client gets a 15 second timeout.
func New(client *http.Client) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Scraper{client: client, now: time.Now}
}

type candidate struct {
	src     string
	alt     string
	width   int
	height  int
	profile bool
}

func (c candidate) area() int { return c.width * c.height }

// FetchMenuImage loads pageURL, picks the most likely menu image and downloads it.
func (s *Scraper) FetchMenuImage(ctx context.Context, pageURL string) (*MenuImage, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	src, method := SelectImage(doc)
	if src == "" {
		return nil, ErrNoImage
	}
	ref, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid image url %q: %w", src, err)
	}
	imageURL := base.ResolveReference(ref).String()
	slog.Info("Selected menu image", logfields.URL(imageURL), slog.String("method", method))

	data, contentType, err := s.download(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}

	return &MenuImage{
		SourceURL:   imageURL,
		Data:        data,
		ContentType: contentType,
		FetchedAt:   s.now(),
		Method:      method,
	}, nil
}

// SelectImage returns the src of the best menu image candidate in doc and the
// method that found it, or "" when there is none.
func SelectImage(doc *goquery.Document) (string, string) {
	var candidates []candidate
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(sel.AttrOr("data-src", ""))
		}
		if src == "" || strings.HasPrefix(src, "data:") || strings.Contains(src, "blank.gif") {
			return
		}
		c := candidate{
			src:    src,
			alt:    sel.AttrOr("alt", ""),
			width:  dimension(sel.AttrOr("width", "")),
			height: dimension(sel.AttrOr("height", "")),
		}
		// Undeclared sizes are kept; only declared thumbnails are dropped.
		if (c.width > 0 && c.width <= minSide) || (c.height > 0 && c.height <= minSide) {
			return
		}
		c.profile = isProfileRelated(c)
		candidates = append(candidates, c)
	})

	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].profile != candidates[j].profile {
				return candidates[i].profile
			}
			return candidates[i].area() > candidates[j].area()
		})
		for i, c := range candidates {
			slog.Debug("Image candidate", slog.Int("rank", i+1), logfields.URL(c.src),
				slog.Int("width", c.width), slog.Int("height", c.height), slog.Bool("profile", c.profile))
		}
		return candidates[0].src, MethodImage
	}

	if og, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og), MethodOGImage
	}
	return "", ""
}

func isProfileRelated(c candidate) bool {
	alt := strings.ToLower(c.alt)
	src := strings.ToLower(c.src)
	return strings.Contains(src, "kakaocdn.net") ||
		strings.Contains(src, "profile") ||
		strings.Contains(alt, "profile") ||
		strings.Contains(c.alt, "프로필")
}

func dimension(v string) int {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Scraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func (s *Scraper) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image body")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
