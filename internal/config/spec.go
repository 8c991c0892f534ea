package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/ecs-manage/internal/core/service"
)

// LoadServiceSpecs reads every service spec from the YAML files at paths.
// A file may hold several documents separated by "---".
func LoadServiceSpecs(paths ...string) ([]service.ServiceSpec, error) {
	var specs []service.ServiceSpec
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open spec: %w", err)
		}
		docs, err := decodeSpecs(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse spec %s: %w", path, err)
		}
		specs = append(specs, docs...)
	}
	return specs, nil
}

func decodeSpecs(r io.Reader) ([]service.ServiceSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var specs []service.ServiceSpec
	for i := 0; ; i++ {
		var spec service.ServiceSpec
		err := dec.Decode(&spec)
		if errors.Is(err, io.EOF) {
			return specs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		specs = append(specs, spec)
	}
}
