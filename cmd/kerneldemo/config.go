package main

import (
	"encoding/json"
	"os"
)

// Config holds the knobs every demo scenario shares. Flags populate it
// first; a -c config file, if given, then overrides whatever the
// flags set, mirroring the client/server override order this demo is
// patterned on.
type Config struct {
	Scenario    string `json:"scenario"`
	TimeoutMs   int    `json:"timeoutms"`
	Port        int    `json:"port"`
	Log         string `json:"log"`
	Quiet       bool   `json:"quiet"`
	MessageSize int    `json:"messagesize"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
