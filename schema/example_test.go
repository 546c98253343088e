package schema_test

import (
	"fmt"
	"log"

	"github.com/c360/schemagate/schema"
)

// ExampleLoad demonstrates loading a schema document from disk and
// validating a payload against it.
func ExampleLoad() {
	validator, err := schema.Load("../testdata/schemas/climate.json")
	if err != nil {
		log.Fatal(err)
	}

	failures := validator.Validate(map[string]any{
		"sensor_id":   "attic-01",
		"timestamp":   "2026-08-25T10:15:00Z",
		"temperature": 121.5,
		"humidity":    40.0,
		"unit":        "C",
	})

	for _, f := range failures {
		fmt.Printf("%s failed %s\n", f.Column, f.Check)
	}
	// Output:
	// temperature failed between(-40, 85)
}
