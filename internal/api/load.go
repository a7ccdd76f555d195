package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"hmo-buddy/internal/parser"
	"hmo-buddy/internal/vectorstore"
)

// LoadInitialDocuments indexes every supported file in the documents
// directory that is not in the store yet. Called once at process start so
// a fresh collection picks up previously uploaded files. Per-file
// failures are logged and skipped.
func LoadInitialDocuments(ctx context.Context, store vectorstore.Store, processor DocumentProcessor, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("dir", dir).Msg("documents directory not found, skipping initial load")
			return nil
		}
		return err
	}

	infos, err := store.List(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		existing[info.Source] = struct{}{}
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !parser.Supported(entry.Name()) {
			continue
		}
		if _, ok := existing[entry.Name()]; ok {
			log.Debug().Str("file", entry.Name()).Msg("document already indexed, skipping")
			continue
		}
		chunks, err := processor.ProcessDocument(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Error().Err(err).Str("file", entry.Name()).Msg("failed to load document")
			continue
		}
		if _, err := store.Add(ctx, chunks, nil); err != nil {
			log.Error().Err(err).Str("file", entry.Name()).Msg("failed to index document")
			continue
		}
		loaded++
		log.Info().Str("file", entry.Name()).Int("chunks", len(chunks)).Msg("loaded document")
	}
	log.Info().Int("loaded", loaded).Msg("initial document load complete")
	return nil
}
