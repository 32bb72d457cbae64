package hosts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clbanning/mxj"
	"gopkg.in/yaml.v3"
)

// ErrInput marks problems with user supplied host lists or host strings.
var ErrInput = errors.New("invalid input")

// DefaultSaveDir is where text-mode host lists are persisted.
const DefaultSaveDir = "saves/hosts"

// Document is the on-disk shape of a host list
type Document struct {
	Hosts []string `json:"hosts" yaml:"hosts"`
}

// Load reads a host list, choosing the decoder from the file extension.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read host list: %v", ErrInput, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON host list: %v", ErrInput, err)
		}
		return doc.Hosts, nil
	case ".yaml", ".yml":
		var doc Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML host list: %v", ErrInput, err)
		}
		return doc.Hosts, nil
	case ".xml":
		return parseXML(data)
	default:
		return nil, fmt.Errorf("%w: unsupported host list format: %q (use .json, .yaml, .yml, or .xml)", ErrInput, ext)
	}
}

// parseXML collects the text of every <host> element below the root.
func parseXML(data []byte) ([]string, error) {
	m, err := mxj.NewMapXml(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse XML host list: %v", ErrInput, err)
	}
	// Only <host> children of the root element count.
	vals, err := m.ValuesForPath("*.host")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read <host> elements: %v", ErrInput, err)
	}

	out := make([]string, 0, len(vals))
	for _, v := range vals {
		var text string
		switch h := v.(type) {
		case string:
			text = h
		case map[string]interface{}:
			// <host attr="..">text</host>
			text, _ = h["#text"].(string)
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

// Parse splits comma-separated user text into host entries.
func Parse(text string) []string {
	var out []string
	for _, h := range strings.Split(text, ",") {
		h = strings.Join(strings.Fields(h), "")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// Save writes hosts as {"hosts": [...]} and creates missing parent directories.
func Save(path string, hosts []string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create host list directory: %w", err)
		}
	}
	if hosts == nil {
		hosts = []string{}
	}
	data, err := json.Marshal(Document{Hosts: hosts})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write host list: %w", err)
	}
	return nil
}

// TimestampPath names a save file after the current unix time.
func TimestampPath(dir string, now time.Time) string {
	if dir == "" {
		dir = DefaultSaveDir
	}
	return filepath.Join(dir, strconv.FormatInt(now.Unix(), 10)+".json")
}
