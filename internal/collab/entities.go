package collab

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/offpost/mailsync/internal/models"
)

// EntityDirectory resolves entity IDs to public bodies.
type EntityDirectory interface {
	GetByID(id string) (*models.Entity, bool)
}

// StaticDirectory is an in-memory EntityDirectory.
type StaticDirectory struct {
	entities map[string]*models.Entity
}

var _ EntityDirectory = (*StaticDirectory)(nil)

func NewStaticDirectory(entities ...models.Entity) *StaticDirectory {
	d := &StaticDirectory{entities: make(map[string]*models.Entity, len(entities))}
	for i := range entities {
		e := entities[i]
		d.entities[e.ID] = &e
	}
	return d
}

// LoadDirectory reads a JSON array of entities from path.
func LoadDirectory(path string) (*StaticDirectory, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entities file: %w", err)
	}

	var entities []models.Entity
	if err := json.Unmarshal(content, &entities); err != nil {
		return nil, fmt.Errorf("failed to parse entities file: %w", err)
	}

	for i, e := range entities {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("entity %d in %s has no entity_id", i, path)
		}
	}

	return NewStaticDirectory(entities...), nil
}

func (d *StaticDirectory) GetByID(id string) (*models.Entity, bool) {
	e, ok := d.entities[id]
	return e, ok
}
