package catalog

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/micro-nova/audioroute/internal/models"
)

// fileRoute and fileComposite mirror the YAML layout of a catalog file:
//
//	variant: board-x
//	default_output: speaker
//	default_input: handset-mic
//	routes:
//	  - {id: speaker, direction: out, backend: codec-rx, profile: speaker}
//	composites:
//	  - {id: speaker-and-headphones, members: [speaker, headphones]}
type fileRoute struct {
	ID        string `mapstructure:"id"`
	Direction string `mapstructure:"direction"`
	Backend   string `mapstructure:"backend"`
	Profile   string `mapstructure:"profile"`
	Card      int    `mapstructure:"card"`
	Requires  string `mapstructure:"requires"`
}

type fileComposite struct {
	ID      string   `mapstructure:"id"`
	Members []string `mapstructure:"members"`
}

type fileCatalog struct {
	Variant       string          `mapstructure:"variant"`
	DefaultOutput string          `mapstructure:"default_output"`
	DefaultInput  string          `mapstructure:"default_input"`
	Routes        []fileRoute     `mapstructure:"routes"`
	Composites    []fileComposite `mapstructure:"composites"`
}

// LoadFile reads a catalog from a YAML, JSON or TOML file.
func LoadFile(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("variant", "custom")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var fc fileCatalog
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	routes := make([]ElementaryRoute, 0, len(fc.Routes))
	for _, r := range fc.Routes {
		var dir Direction
		switch r.Direction {
		case "out", "":
			dir = Out
		case "in":
			dir = In
		default:
			return nil, fmt.Errorf("catalog: route %s: unknown direction %q", r.ID, r.Direction)
		}
		req := Requirement(r.Requires)
		switch req {
		case RequiresNone, RequiresWireless, RequiresJack:
		default:
			return nil, fmt.Errorf("catalog: route %s: unknown requirement %q", r.ID, r.Requires)
		}
		profile := r.Profile
		if profile == "" {
			profile = r.ID
		}
		routes = append(routes, ElementaryRoute{
			ID:        models.RouteID(r.ID),
			Direction: dir,
			Backend:   r.Backend,
			Profile:   profile,
			Card:      r.Card,
			Requires:  req,
		})
	}

	composites := make([]CompositeRoute, 0, len(fc.Composites))
	for _, c := range fc.Composites {
		members := make([]models.RouteID, len(c.Members))
		for i, m := range c.Members {
			members[i] = models.RouteID(m)
		}
		composites = append(composites, CompositeRoute{ID: models.RouteID(c.ID), Members: members})
	}

	return New(fc.Variant, routes, composites, models.RouteID(fc.DefaultOutput), models.RouteID(fc.DefaultInput))
}
