// Package main generates the OpenAPI specification for webextract-api
// without requiring a database, browser service, or any other live
// dependency: it builds the same route set the server registers, but with
// a bare Deps carrying only the config needed to render server/security
// metadata, and prints the resulting document.
//
// Usage:
//
//	go run ./cmd/webextract-openapi > openapi.json
//	go run ./cmd/webextract-openapi -yaml > openapi.yaml
//	go run ./cmd/webextract-openapi -output openapi.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fetchframe/webextract-api/internal/config"
	"github.com/fetchframe/webextract-api/internal/httpserver"
	"github.com/fetchframe/webextract-api/internal/version"
)

func main() {
	outputFile := flag.String("output", "", "Output file path (default: stdout)")
	outputYAML := flag.Bool("yaml", false, "Output as YAML instead of JSON")
	baseURL := flag.String("base-url", "https://api.webextract.dev", "Base URL for the API server")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().Short())
		return
	}

	cfg := &config.Config{BaseURL: *baseURL, MaxBatchSize: 50}
	api := httpserver.BuildDocAPI(cfg)
	spec := api.OpenAPI()

	var data []byte
	var err error
	if *outputYAML {
		data, err = yaml.Marshal(spec)
	} else {
		data, err = json.MarshalIndent(spec, "", "  ")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling OpenAPI spec: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing to file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "OpenAPI spec written to %s\n", *outputFile)
		return
	}
	fmt.Print(string(data))
}
