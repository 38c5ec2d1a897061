package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/viam-modules/thinginoonvif"
)

// loadConfig reads a camera configuration from a YAML file. A non-empty host overrides the file.
func loadConfig(configPath, host string) (*thinginoonvif.Config, error) {
	conf := &thinginoonvif.Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, conf); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
		}
	}
	if host != "" {
		conf.Host = host
	}
	name := configPath
	if name == "" {
		name = "command line"
	}
	if _, err := conf.Validate(name); err != nil {
		return nil, err
	}
	return conf, nil
}
