package main

import (
	"encoding/json"
	"fmt"
)

// printJSON pretty-prints an inspect result the way every "inspect"
// subcommand renders its object: indented JSON, one object per call.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering output: %w", err)
	}
	fmt.Println(string(b))
	return nil
}
