package tts

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxJSONResponseBytes bounds how much of a JSON API response is read.
const maxJSONResponseBytes = 1 << 20

// parseJSON parses JSON data into the target interface.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// readJSON reads a bounded JSON body into target.
func readJSON(body io.Reader, target any) error {
	data, err := io.ReadAll(io.LimitReader(body, maxJSONResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read JSON response: %w", err)
	}

	return parseJSON(data, target)
}
