package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/models"
)

// Adder creates one entry. *rag.Engine satisfies it.
type Adder[T any] interface {
	AddEntry(ctx context.Context, entry T) (string, error)
}

// Result reports what importing one file did.
type Result struct {
	Path      string `json:"path"`
	Knowledge int    `json:"knowledge"`
	Products  int    `json:"products"`
	Invalid   int    `json:"invalid"`
	Ignored   int    `json:"ignored"`
	Unchanged bool   `json:"unchanged"`
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger for the importer.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// Importer feeds seed files into the corpus engines. A nil adder disables its
// corpus; entries for it are counted as ignored.
type Importer struct {
	knowledge Adder[*models.Knowledge]
	products  Adder[*models.Product]
	logger    *zap.Logger

	mu     sync.Mutex
	hashes map[string]string
}

// New creates an importer.
func New(knowledge Adder[*models.Knowledge], products Adder[*models.Product], opts ...Option) *Importer {
	im := &Importer{
		knowledge: knowledge,
		products:  products,
		logger:    zap.NewNop(),
		hashes:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// contentHash identifies file content so that a rewrite with the same bytes is not imported twice.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// seedID derives the id of the entry at index in a seed file. The same file
// position always maps to the same id, so importing a file again updates its
// entries instead of adding copies. The id is 24 hex characters, which the
// Mongo store accepts as an ObjectID.
func seedID(path, corpus string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", path, corpus, index)))
	return hex.EncodeToString(sum[:12])
}

// ImportFile parses the seed file at path and adds every valid entry under an
// id derived from its position in the file. A file whose content was already
// imported by this Importer is skipped. Invalid entries are logged and
// counted; other add failures abort the import, and retrying it replaces the
// entries that were already stored.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	res := &Result{Path: abs}
	hash := contentHash(data)

	im.mu.Lock()
	unchanged := im.hashes[abs] == hash
	im.mu.Unlock()
	if unchanged {
		res.Unchanged = true
		im.logger.Debug("Seed file unchanged, skipping", zap.String("path", abs))
		return res, nil
	}

	seed, err := Parse(data, filepath.Ext(abs))
	if err != nil {
		return nil, err
	}
	if err := im.importSeed(ctx, abs, seed, res); err != nil {
		return res, err
	}

	im.mu.Lock()
	im.hashes[abs] = hash
	im.mu.Unlock()
	im.logger.Info("Seed file imported",
		zap.String("path", abs),
		zap.Int("knowledge", res.Knowledge),
		zap.Int("products", res.Products),
		zap.Int("invalid", res.Invalid),
		zap.Int("ignored", res.Ignored))
	return res, nil
}

func (im *Importer) importSeed(ctx context.Context, path string, seed *Seed, res *Result) error {
	for i := range seed.Knowledge {
		if im.knowledge == nil {
			res.Ignored++
			continue
		}
		ok, err := im.add(ctx, "knowledge", i, func() error {
			k := seed.Knowledge[i].Knowledge()
			k.ID = seedID(path, "knowledge", i)
			_, err := im.knowledge.AddEntry(ctx, k)
			return err
		})
		if err != nil {
			return err
		}
		if ok {
			res.Knowledge++
		} else {
			res.Invalid++
		}
	}
	for i := range seed.Products {
		if im.products == nil {
			res.Ignored++
			continue
		}
		ok, err := im.add(ctx, "products", i, func() error {
			p := seed.Products[i].Product()
			p.ID = seedID(path, "products", i)
			_, err := im.products.AddEntry(ctx, p)
			return err
		})
		if err != nil {
			return err
		}
		if ok {
			res.Products++
		} else {
			res.Invalid++
		}
	}
	return nil
}

// add runs one insertion. Validation errors are reported as ok=false; other errors are returned.
func (im *Importer) add(ctx context.Context, corpus string, index int, insert func() error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := insert()
	var verr *models.ValidationError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &verr):
		im.logger.Warn("Skipping invalid seed entry",
			zap.String("corpus", corpus), zap.Int("index", index), zap.Error(err))
		return false, nil
	default:
		return false, fmt.Errorf("failed to import %s entry %d: %w", corpus, index, err)
	}
}
