// Package config holds the producer and consumer side configuration
// structs, populated from CLI flags and optionally overridden by a JSON
// file, the way kcptun's client/main.go and server/config.go layer
// parseJSONConfig on top of cli.Context values.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Producer holds splitpipe's resolved configuration.
type Producer struct {
	BufferSizeKB    int    `json:"buffersize"`
	VolumeSizeToken string `json:"volumesize"`
	Output          string `json:"output"`
	Label           string `json:"label"`
	NoPrompt        bool   `json:"noprompt"`
	Verbose         bool   `json:"verbose"`
	Debug           bool   `json:"debug"`
	RetrySameVolume bool   `json:"retrysamevolume"`
	SHA1            bool   `json:"sha1"`
}

// Consumer holds joinpipe's resolved configuration.
type Consumer struct {
	Volumes  []string `json:"volumes"`
	NoPrompt bool     `json:"noprompt"`
	Verbose  bool     `json:"verbose"`
	Debug    bool     `json:"debug"`
	SHA1     bool     `json:"sha1"`
}

// LoadJSONOverride decodes path's JSON contents onto config, exactly as
// kcptun's parseJSONConfig does onto its own Config struct.
func LoadJSONOverride(config any, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "config: opening override file")
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return errors.Wrap(err, "config: decoding override file")
	}
	return nil
}
