package config_test

import (
	"fmt"
	"log"

	"github.com/c360/schemagate/config"
)

// ExampleLoader_Load demonstrates loading a configuration file with
// environment variable overrides and validation applied.
func ExampleLoader_Load() {
	loader := config.NewLoader("../testdata/config.json")

	cfg, err := loader.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Broker.Host)
	fmt.Printf("sensors=%d actuators=%d\n", len(cfg.Sensors), len(cfg.Actuators))
	// Output:
	// mqtt.lab.local
	// sensors=2 actuators=1
}

// ExampleDefault shows the configuration an unconfigured service starts
// with: standard ports, no broker. The service runs empty and waits for
// settings through the API.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Println("api port:", cfg.APIPort)
	fmt.Println("metrics port:", cfg.MetricsPort)
	fmt.Println("schema dir:", cfg.SchemaDir)
	// Output:
	// api port: 8000
	// metrics port: 9090
	// schema dir: schemas
}
