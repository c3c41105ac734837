// Package templates embeds the default notification template catalog. The
// catalog is upserted into notification_templates at service startup, so
// operators can still edit rows after the fact.
package templates

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
)

//go:embed templates.yaml
var catalogYAML []byte

type catalogFile struct {
	Templates []catalogEntry `yaml:"templates"`
}

type catalogEntry struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Subject     string `yaml:"subject"`
	Content     string `yaml:"content"`
	Description string `yaml:"description"`
	Active      bool   `yaml:"active"`
}

// Load parses the embedded catalog into domain templates.
func Load() ([]domain.Template, error) {
	var file catalogFile
	if err := yaml.Unmarshal(catalogYAML, &file); err != nil {
		return nil, fmt.Errorf("templates: parse catalog: %w", err)
	}

	now := time.Now().UTC()
	tmpls := make([]domain.Template, 0, len(file.Templates))
	for _, e := range file.Templates {
		if e.Name == "" {
			return nil, fmt.Errorf("templates: catalog entry without a name")
		}
		tmpls = append(tmpls, domain.Template{
			ID:          uuid.NewString(),
			Name:        e.Name,
			Type:        domain.Type(e.Type),
			Subject:     e.Subject,
			Content:     e.Content,
			Description: e.Description,
			IsActive:    e.Active,
			CreatedAt:   now,
		})
	}
	return tmpls, nil
}
