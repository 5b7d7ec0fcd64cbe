package pdfpages

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"finrep/internal/domain"
)

// Rasterizer implements port.Rasterizer by shelling out to pdftoppm. Each document is
// spooled to a temp file once per Document.CacheKey and reused for every page.
type Rasterizer struct {
	binary string
	dir    string

	mu    sync.Mutex
	files map[string]string
}

// NewRasterizer creates a rasterizer that spools documents under dir ("" uses the OS temp dir).
func NewRasterizer(binary, dir string) *Rasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &Rasterizer{binary: binary, dir: dir, files: map[string]string{}}
}

func (r *Rasterizer) spool(doc *domain.Document) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := doc.CacheKey()
	if path, ok := r.files[key]; ok {
		return path, nil
	}
	f, err := os.CreateTemp(r.dir, "finrep-*.pdf")
	if err != nil {
		return "", fmt.Errorf("creating spool file: %w", err)
	}
	if _, err := f.Write(doc.Content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing spool file: %w", err)
	}
	r.files[key] = f.Name()
	return f.Name(), nil
}

// Render returns a PNG of one page.
func (r *Rasterizer) Render(ctx context.Context, doc *domain.Document, page int, dpi int) ([]byte, error) {
	pdfPath, err := r.spool(doc)
	if err != nil {
		return nil, err
	}
	outDir, err := os.MkdirTemp(r.dir, "finrep-page-*")
	if err != nil {
		return nil, fmt.Errorf("creating render dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, r.binary,
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-png",
		"-singlefile",
		"-r", strconv.Itoa(dpi),
		pdfPath,
		prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, out)
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("reading rendered page %d: %w", page, err)
	}
	return img, nil
}

// Release removes the spooled copy stored under key.
func (r *Rasterizer) Release(key string) {
	r.mu.Lock()
	path, ok := r.files[key]
	delete(r.files, key)
	r.mu.Unlock()
	if ok {
		_ = os.Remove(path)
	}
}
