package pipeline

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-scrape-music/models"
)

// Export writes every persisted artist to w, joined with the image URL
// resolved for it, and returns the number of rows written.
func (o *Orchestrator) Export(ctx context.Context, w OutputWriter) (int, error) {
	written := 0
	err := o.eachArtistPage(func(unit models.WorkUnit, artists []models.Artist) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		images, err := o.resolvedImages(unit)
		if err != nil {
			return err
		}

		rows := make([]ExportRow, 0, len(artists))
		for _, a := range artists {
			rows = append(rows, ExportRow{
				Genre:       unit.Key,
				Page:        unit.Page,
				Username:    a.Username,
				Description: a.Description,
				Avatar:      a.Avatar,
				ImageURL:    images[a.Username],
			})
		}
		if err := w.Write(rows); err != nil {
			return fmt.Errorf("export %s: %w", unit, err)
		}
		written += len(rows)
		return nil
	})
	return written, err
}

// resolvedImages maps artist names to image URLs for a unit whose URL stage
// completed. Other units yield an empty map.
func (o *Orchestrator) resolvedImages(unit models.WorkUnit) (map[string]string, error) {
	images := make(map[string]string)
	done, err := o.store.IsComplete(unit, models.StageURLsResolved)
	if err != nil || !done {
		return images, err
	}
	var refs []models.ImageRef
	if err := o.store.ReadArtifact(unit, ArtifactArtistImages, &refs); err != nil {
		return nil, err
	}
	for _, ref := range refs {
		images[ref.Name] = ref.URL
	}
	return images, nil
}
