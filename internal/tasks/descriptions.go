package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/spx/internal/models"
	"github.com/google/renameio/v2"
)

// descriptionMaxLen is the provider's description length limit.
const descriptionMaxLen = 300

// defaultDescriptionTemplate is used when the config names no template.
const defaultDescriptionTemplate = "{count} tracks · updated {date}"

// descriptionCache remembers the snapshot version each playlist carried when
// its description was last written, so unchanged playlists skip the write.
type descriptionCache struct {
	path string

	Snapshots map[string]string `toml:"snapshots"`
}

func loadDescriptionCache(path string) (*descriptionCache, error) {
	cache := &descriptionCache{path: path, Snapshots: map[string]string{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cache, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read description cache: %w", err)
	}
	if err := toml.Unmarshal(data, cache); err != nil {
		return nil, fmt.Errorf("failed to parse description cache: %w", err)
	}
	if cache.Snapshots == nil {
		cache.Snapshots = map[string]string{}
	}
	return cache, nil
}

func (c *descriptionCache) Save() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode description cache: %w", err)
	}
	if err := renameio.WriteFile(c.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write description cache: %w", err)
	}
	return nil
}

// stepDescriptions refreshes archive playlist descriptions. Per-playlist
// failures are logged and counted, never propagated; the archives themselves
// are already correct by this point.
func (p *Pipeline) stepDescriptions(ctx context.Context, report *models.StepReport) error {
	cache, err := loadDescriptionCache(p.config.DescriptionCachePath())
	if err != nil {
		p.logger.Warn("description cache unreadable, starting empty", "error", err)
		cache = &descriptionCache{path: p.config.DescriptionCachePath(), Snapshots: map[string]string{}}
	}

	user, err := p.currentUser(ctx)
	if err != nil {
		return err
	}
	playlists, err := p.cat.Playlists()
	if err != nil {
		return err
	}

	dirty := false
	for _, pl := range playlists {
		if pl.Stale || pl.OwnerID != user {
			continue
		}
		parsed, ok := p.namer.Parse(pl.Name)
		if !ok || !parsed.Yearly() {
			continue
		}
		if !p.touched[pl.ID] && pl.SnapshotVersion != "" && cache.Snapshots[pl.ID] == pl.SnapshotVersion {
			continue
		}

		rows, err := p.service.Membership(ctx, pl.ID)
		if err != nil {
			p.logger.Warn("could not list playlist for description", "playlist", pl.Name, "error", err)
			report.Count("descriptions_failed", 1)
			continue
		}
		text := p.renderDescription(parsed, len(rows))

		if p.dryRun {
			report.Count("would_describe", 1)
			continue
		}
		if err := p.service.SetDescription(ctx, pl.ID, text); err != nil {
			p.logger.Warn("could not set description", "playlist", pl.Name, "error", err)
			report.Count("descriptions_failed", 1)
			continue
		}
		cache.Snapshots[pl.ID] = pl.SnapshotVersion
		dirty = true
		report.Count("described", 1)
	}

	if dirty {
		if err := cache.Save(); err != nil {
			p.logger.Warn("could not persist description cache", "error", err)
		}
	}
	return nil
}

// renderDescription fills the configured template and clamps it to the
// provider limit. Placeholders: {kind}, {year}, {count}, {date}.
func (p *Pipeline) renderDescription(name ArchiveName, trackCount int) string {
	template := p.config.Archive.DescriptionTemplate
	if template == "" {
		template = defaultDescriptionTemplate
	}

	text := strings.NewReplacer(
		"{kind}", string(name.Kind),
		"{year}", strconv.Itoa(name.Year),
		"{count}", strconv.Itoa(trackCount),
		"{date}", p.now().UTC().Format("2006-01-02"),
	).Replace(template)

	runes := []rune(text)
	if len(runes) > descriptionMaxLen {
		return string(runes[:descriptionMaxLen])
	}
	return text
}
