// Package fleet besitzt den Gerätebestand: Inventar, ein Worker je
// Terminal und der Supervisor darüber.
package fleet

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/stempelwerk/zeitcore/internal/config"
)

//go:embed schema/devices-v1.json
var inventorySchemaJSON string

// DeviceConfig ist die aufgelöste, unveränderliche Beschreibung eines
// Terminals. Identität ist die Seriennummer, ersatzweise die Adresse.
type DeviceConfig struct {
	Serial       string
	Address      string // host:port
	Timezone     *time.Location
	PollInterval time.Duration
}

func (c DeviceConfig) Identity() string {
	if c.Serial != "" {
		return c.Serial
	}
	return c.Address
}

type inventoryFile struct {
	Devices []inventoryEntry `yaml:"devices"`
}

type inventoryEntry struct {
	Serial       string `yaml:"serial"`
	Address      string `yaml:"address"`
	Port         int    `yaml:"port"`
	Timezone     string `yaml:"timezone"`
	PollInterval string `yaml:"poll_interval"`
}

const (
	defaultDevicePort   = 4370
	defaultPollInterval = time.Minute
	minPollInterval     = time.Second
)

// LoadInventory liest und prüft die Gerätedatei. Jede Verletzung ist ein
// ConfigError und bricht den Start ab, bevor ein Worker läuft.
func LoadInventory(path string) ([]DeviceConfig, error) {
	fail := func(err error) ([]DeviceConfig, error) {
		return nil, &config.ConfigError{Source: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}

	if err := validateInventoryData(data); err != nil {
		return fail(err)
	}

	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fail(fmt.Errorf("invalid YAML: %w", err))
	}
	if len(file.Devices) == 0 {
		return fail(errors.New("no devices configured"))
	}

	seen := make(map[string]struct{}, len(file.Devices))
	configs := make([]DeviceConfig, 0, len(file.Devices))

	for i, entry := range file.Devices {
		cfg, err := resolveEntry(entry)
		if err != nil {
			return fail(fmt.Errorf("device %d: %w", i, err))
		}

		id := cfg.Identity()
		if _, dup := seen[id]; dup {
			return fail(fmt.Errorf("device %d: duplicate identity %q", i, id))
		}
		seen[id] = struct{}{}

		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool {
		return configs[i].Identity() < configs[j].Identity()
	})

	return configs, nil
}

func resolveEntry(entry inventoryEntry) (DeviceConfig, error) {
	cfg := DeviceConfig{
		Serial:       strings.TrimSpace(entry.Serial),
		Timezone:     time.UTC,
		PollInterval: defaultPollInterval,
	}

	host := strings.TrimSpace(entry.Address)
	if host == "" {
		return DeviceConfig{}, errors.New("address must not be empty")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		// Adresse bringt ihren Port schon mit
		cfg.Address = host
	} else {
		port := entry.Port
		if port == 0 {
			port = defaultDevicePort
		}
		cfg.Address = net.JoinHostPort(host, strconv.Itoa(port))
	}

	if entry.Timezone != "" {
		loc, err := time.LoadLocation(entry.Timezone)
		if err != nil {
			return DeviceConfig{}, fmt.Errorf("unknown timezone %q", entry.Timezone)
		}
		cfg.Timezone = loc
	}

	if entry.PollInterval != "" {
		d, err := time.ParseDuration(entry.PollInterval)
		if err != nil {
			return DeviceConfig{}, fmt.Errorf("invalid poll_interval %q", entry.PollInterval)
		}
		if d < minPollInterval {
			return DeviceConfig{}, fmt.Errorf("poll_interval below %s", minPollInterval)
		}
		cfg.PollInterval = d
	}

	return cfg, nil
}

// validateInventoryData prüft die Datei gegen das eingebettete Schema.
// Der YAML-Baum wird dafür durch JSON gefaltet, damit die Zahlentypen
// denen des Validators entsprechen.
func validateInventoryData(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("devices-v1.json", strings.NewReader(inventorySchemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("devices-v1.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert inventory: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(jsonBytes, &jsonDoc); err != nil {
		return fmt.Errorf("failed to convert inventory: %w", err)
	}

	if err := schema.Validate(jsonDoc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
