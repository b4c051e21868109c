package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"sync"
)

// StreamInfo describes a byte stream handed to the converter registry.
// Fields may be empty; magic-byte sniffing upgrades MimeType and Extension
// before dispatch.
type StreamInfo struct {
	MimeType  string
	Extension string
	Charset   string
	Filename  string
	URL       string
	LocalPath string
}

// Converter turns a byte stream into an extraction payload.
type Converter interface {
	// Name identifies the converter in logs.
	Name() string
	// Accepts reports whether the converter can handle the stream.
	Accepts(info StreamInfo) bool
	// Convert consumes the stream and builds a payload. The registry
	// rewinds the stream before each attempt, so Convert may read freely.
	Convert(ctx context.Context, r io.ReadSeeker, info StreamInfo) (*Payload, error)
}

// ErrNoConverter is returned when no registered converter accepts a stream.
var ErrNoConverter = errors.New("no converter accepted the stream")

type registeredConverter struct {
	conv     Converter
	priority int
}

// Registry dispatches byte streams to converters in priority order, lowest
// number first.
type Registry struct {
	mu         sync.RWMutex
	converters []registeredConverter
	logger     *slog.Logger
}

// NewRegistry builds an empty converter registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger.With("component", "converters")}
}

// Register adds a converter. Lower priorities are tried first; equal
// priorities keep registration order.
func (r *Registry) Register(conv Converter, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters = append(r.converters, registeredConverter{conv: conv, priority: priority})
	sort.SliceStable(r.converters, func(i, j int) bool {
		return r.converters[i].priority < r.converters[j].priority
	})
}

// Convert sniffs the stream, then walks accepting converters in priority
// order. A converter that accepts but fails does not end the dispatch: the
// stream is rewound and the next one tried.
func (r *Registry) Convert(ctx context.Context, stream io.ReadSeeker, info StreamInfo) (*Payload, error) {
	info = SniffStreamInfo(stream, info)

	r.mu.RLock()
	candidates := make([]registeredConverter, len(r.converters))
	copy(candidates, r.converters)
	r.mu.RUnlock()

	var lastErr error
	for _, rc := range candidates {
		if !rc.conv.Accepts(info) {
			continue
		}
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind stream: %w", err)
		}
		p, err := rc.conv.Convert(ctx, stream, info)
		if err != nil {
			r.logger.Warn("converter failed, trying next",
				"converter", rc.conv.Name(), "mimetype", info.MimeType, "error", err)
			lastErr = err
			continue
		}
		r.logger.Debug("stream converted", "converter", rc.conv.Name(), "mimetype", info.MimeType)
		return p, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("every accepting converter failed: %w", lastErr)
	}
	return nil, fmt.Errorf("%w: mimetype %q extension %q", ErrNoConverter, info.MimeType, info.Extension)
}

// sniffExtensions maps sniffed media types to canonical extensions.
var sniffExtensions = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"text/html":       ".html",
}

// SniffStreamInfo reads the stream head and reconciles the caller-supplied
// info with a magic-byte content type guess. A generic sniff (octet-stream,
// text/plain) never overrides a specific header type, but a specific sniff
// overrides a mismatched header because file signatures lie less often than
// download servers do. The stream is rewound before returning.
func SniffStreamInfo(stream io.ReadSeeker, info StreamInfo) StreamInfo {
	head := make([]byte, 512)
	n, _ := io.ReadFull(stream, head)
	stream.Seek(0, io.SeekStart)
	if n == 0 {
		return info
	}

	mt, params, err := mime.ParseMediaType(http.DetectContentType(head[:n]))
	if err != nil {
		return info
	}
	generic := mt == "application/octet-stream" || mt == "text/plain"
	if generic && info.MimeType != "" {
		return info
	}
	if info.MimeType == "" || !generic {
		info.MimeType = mt
		if ext, ok := sniffExtensions[mt]; ok && info.Extension == "" {
			info.Extension = ext
		}
	}
	if info.Charset == "" {
		info.Charset = params["charset"]
	}
	return info
}
