package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dejaview/pinboard/pkg/log"
)

// Pin is one image extracted from a public board page. Scraped pins carry
// limited metadata compared to the official API.
type Pin struct {
	PinID       string `json:"pin_id"`
	ImageURL    string `json:"image_url"`
	BoardURL    string `json:"board_url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

var (
	// Direct pinimg.com image URLs embedded in the board page.
	imagePattern = regexp.MustCompile(`(?i)https?://i\.pinimg\.com/[^"'>\s]+\.(?:jpg|png|webp)`)

	// The 32-hex hash in an image URL uniquely identifies the pin.
	hashPattern = regexp.MustCompile(`(?i)/([a-f0-9]{32})\.(?:jpg|png|webp)$`)

	// Thumbnail resolution segments rewritten to 736x. Originals are sometimes
	// blocked for anonymous fetches, 736x is reliably accessible.
	resolutionPattern = regexp.MustCompile(`/(?:170x|236x|474x|550x|1200x|136x136|200x150|222x|originals)/`)

	// Regional pinterest hosts normalized to www.pinterest.com.
	pinterestHostPattern = regexp.MustCompile(`^https?://(?:www\.|[a-z]{2}\.)?pinterest\.com`)
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Scraper extracts pin image URLs from public Pinterest board pages. Use it
// when official API access is unavailable.
type Scraper struct {
	httpClient *http.Client
	group      singleflight.Group
	userAgent  string
}

func New(timeout time.Duration) *Scraper {
	return &Scraper{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  defaultUserAgent,
	}
}

// ListPins fetches the board page and returns up to limit pins. Concurrent
// calls for the same board and limit share one fetch. An unreachable board is
// an error; a reachable board with no recognizable pins is an empty list.
func (s *Scraper) ListPins(ctx context.Context, boardURL string, limit int) ([]Pin, error) {
	if limit <= 0 {
		limit = 50
	}
	normalized := NormalizeBoardURL(boardURL)
	if normalized == "" {
		return nil, fmt.Errorf("board url is required")
	}

	key := fmt.Sprintf("%s|%d", normalized, limit)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.scrapeBoard(ctx, normalized, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Pin), nil
}

func (s *Scraper) scrapeBoard(ctx context.Context, boardURL string, limit int) ([]Pin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, boardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build board request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch board page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch board page: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read board page: %w", err)
	}

	pins := extractPins(string(body), boardURL, limit)
	log.Info("Scraped %d pin(s) from %s", len(pins), boardURL)
	return pins, nil
}

// extractPins pulls image URLs out of the page, upgrades them to 736x and
// dedupes by pin hash, preserving first-seen order.
func extractPins(html, boardURL string, limit int) []Pin {
	matches := imagePattern.FindAllString(html, -1)
	seen := make(map[string]bool)
	pins := make([]Pin, 0, limit)

	for _, raw := range matches {
		url := toHighRes(raw)
		hash := extractPinHash(url)
		if hash == "" || seen[hash] {
			continue
		}
		seen[hash] = true
		pins = append(pins, Pin{
			PinID:    hash,
			ImageURL: url,
			BoardURL: boardURL,
		})
		if len(pins) >= limit {
			break
		}
	}
	return pins
}

// NormalizeBoardURL makes board URL variants comparable: trims whitespace and
// trailing slashes, defaults the scheme, and folds regional pinterest hosts.
func NormalizeBoardURL(boardURL string) string {
	url := strings.TrimRight(strings.TrimSpace(boardURL), "/")
	if url == "" {
		return ""
	}
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	return pinterestHostPattern.ReplaceAllString(url, "https://www.pinterest.com")
}

func toHighRes(url string) string {
	return resolutionPattern.ReplaceAllString(url, "/736x/")
}

func extractPinHash(url string) string {
	m := hashPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
