package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultClassNames is the label order the bundled weights were trained with.
var DefaultClassNames = []string{
	"Speed Limit 50",
	"Speed Limit 100",
	"No Overtaking",
	"Yield",
	"Stop",
	"No Entry",
	"Danger Ahead",
	"Road Work Ahead",
	"Pedestrian Crossing",
	"Children Crossing",
}

type datasetFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadClassNames reads the names entry of a dataset YAML file. Both the list
// form and the index-keyed map form are accepted. An empty path returns the
// defaults.
func LoadClassNames(path string) ([]string, error) {
	if path == "" {
		return append([]string(nil), DefaultClassNames...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class names: %w", err)
	}

	var ds datasetFile
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse class names: %w", err)
	}

	var names []string
	switch ds.Names.Kind {
	case yaml.SequenceNode:
		if err := ds.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("parse class names: %w", err)
		}
	case yaml.MappingNode:
		var byIndex map[int]string
		if err := ds.Names.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("parse class names: %w", err)
		}
		names = denseNames(byIndex)
	default:
		return nil, fmt.Errorf("%s: no names list", path)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("%s: names list is empty", path)
	}
	return names, nil
}

// denseNames turns {0: a, 2: c} into [a, "1", c].
func denseNames(byIndex map[int]string) []string {
	last := -1
	for i := range byIndex {
		if i > last {
			last = i
		}
	}

	names := make([]string, last+1)
	for i := range names {
		if n, ok := byIndex[i]; ok {
			names[i] = n
		} else {
			names[i] = strconv.Itoa(i)
		}
	}
	return names
}
