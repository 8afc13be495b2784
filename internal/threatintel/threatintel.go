// Package threatintel provides a static lookup of malicious IPs and attack
// patterns used to enrich the investigation stage.
package threatintel

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/linnemanlabs/go-core/xerrors"
	"gopkg.in/yaml.v3"
)

// ErrNotConfigured is returned by Lookup when no intel data is loaded.
var ErrNotConfigured = xerrors.New("threat intelligence not configured")

//go:embed default.yaml
var defaultTable []byte

// MaliciousIP is a known-bad address.
type MaliciousIP struct {
	IP          string  `json:"ip" yaml:"ip"`
	Description string  `json:"description" yaml:"description"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
}

// AttackPattern maps a named behaviour to the ATT&CK techniques it covers.
type AttackPattern struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Techniques  []string `json:"techniques" yaml:"techniques"`
}

// Table is an in-memory intel dataset. A nil or empty Table is "not configured".
type Table struct {
	MaliciousIPs   []MaliciousIP   `json:"malicious_ips" yaml:"malicious_ips"`
	AttackPatterns []AttackPattern `json:"attack_patterns" yaml:"attack_patterns"`
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultTable, ".yaml")
	if err != nil {
		panic(fmt.Sprintf("threatintel: embedded table: %v", err))
	}
	return t
}

// Load reads a table from a JSON or YAML file, chosen by extension.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("threatintel: read %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes a table. ext selects the format (".yaml", ".yml", anything else is JSON).
func Parse(data []byte, ext string) (*Table, error) {
	var t Table
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("threatintel: decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("threatintel: decode json: %w", err)
		}
	}
	return &t, nil
}

func (t *Table) empty() bool {
	return t == nil || (len(t.MaliciousIPs) == 0 && len(t.AttackPatterns) == 0)
}

// Lookup returns one line per match: IP matches first, then technique
// matches in alert technique order. An empty result means the table was
// checked and nothing matched; ErrNotConfigured means there was nothing to check.
func (t *Table) Lookup(sourceIP string, techniques []string) ([]string, error) {
	if t.empty() {
		return nil, ErrNotConfigured
	}

	var lines []string
	if sourceIP != "" {
		for _, ip := range t.MaliciousIPs {
			if ip.IP == sourceIP {
				lines = append(lines, fmt.Sprintf("- Source IP %s: %s (Confidence: %v)", ip.IP, ip.Description, ip.Confidence))
			}
		}
	}
	for _, tech := range techniques {
		for _, p := range t.AttackPatterns {
			if slices.Contains(p.Techniques, tech) {
				lines = append(lines, fmt.Sprintf("- %s: %s", p.Name, p.Description))
			}
		}
	}
	return lines, nil
}
