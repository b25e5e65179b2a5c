// Package archive periodically exports the block corpus as a zip snapshot,
// one JSON file per block row.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onpostt/relay/internal/models"
	"gorm.io/gorm"
)

type Archiver struct {
	db       *gorm.DB
	dir      string
	interval time.Duration
}

func NewArchiver(db *gorm.DB, dir string, interval time.Duration) *Archiver {
	return &Archiver{db: db, dir: dir, interval: interval}
}

// Start runs the archive loop until done is closed. Failures are logged and
// the next tick retries; a broken backup never disturbs the serving path.
func (a *Archiver) Start(done chan struct{}) {
	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := a.Run(); err != nil {
					slog.Error("block archive failed", "action", "archive", "error", err)
				}
			case <-done:
				return
			}
		}
	}()
}

// Run writes one snapshot of every stored block into a timestamped zip.
func (a *Archiver) Run() error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	timestamp := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339))
	path := filepath.Join(a.dir, "backup_"+timestamp+".zip")

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	var count int
	var blocks []models.Block
	err = a.db.Model(&models.Block{}).FindInBatches(&blocks, 500, func(tx *gorm.DB, batch int) error {
		for i := range blocks {
			name := fmt.Sprintf("block_%s_%s.json", blocks[i].Pubkey, blocks[i].ID)
			w, err := zw.Create(name)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(&blocks[i], "", "  ")
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			count++
		}
		return nil
	}).Error
	if err != nil {
		zw.Close()
		return fmt.Errorf("export blocks: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}

	slog.Info("block archive created", "path", path, "blocks", count)
	return nil
}
