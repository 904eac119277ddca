package pipeline

import (
	"context"

	"github.com/dejaview/pinboard/internal/gemini"
	"github.com/dejaview/pinboard/internal/llm"
	"github.com/dejaview/pinboard/internal/scraper"
)

// Collaborator boundaries. The runner only orchestrates; every slow or
// unreliable call lives behind one of these.

// ItemLister discovers candidate pins for a board.
type ItemLister interface {
	ListPins(ctx context.Context, boardURL string, limit int) ([]scraper.Pin, error)
}

// Analyzer turns one pin into structured furniture attributes.
type Analyzer interface {
	AnalyzePin(ctx context.Context, imageURL, title, description string, opts *llm.AnalyzeOptions) (*llm.PinAnalysis, error)
}

// Isolator cuts the described item out of an image as a transparent PNG.
type Isolator interface {
	ExtractItem(ctx context.Context, imageBytes []byte, itemDescription string, opts *gemini.IsolateOptions) ([]byte, error)
}

// Synthesizer generates a 3D model from an isolated item image and returns
// the URL of the .glb artifact.
type Synthesizer interface {
	GenerateModel(ctx context.Context, imageBytes []byte) (string, error)
}

// ObjectStore uploads an artifact and returns its key and public URL.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, contentType, ext, prefix string) (string, string, error)
}

// Fetcher downloads a resource into memory.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
