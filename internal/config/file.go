package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadFiles seeds the process environment from an optional .env file and an
// optional YAML file before Load runs. Variables already present in the
// environment are never overwritten, so the precedence is
// environment > .env > YAML > built-in defaults.
//
// The YAML file is a flat mapping of environment keys, for example:
//
//	db_dialect: postgres
//	db_host: localhost
//	mail_transport: amqp
func LoadFiles(envFile, yamlFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if yamlFile == "" {
		return nil
	}
	raw, err := os.ReadFile(yamlFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", yamlFile, err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse %s: %w", yamlFile, err)
	}
	for k, v := range values {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" || v == nil {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(v)); err != nil {
			return err
		}
	}
	return nil
}
