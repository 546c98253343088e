// Package api serves the HTTP configuration surface for SchemaGate.
//
// The admin UI talks to this server to inspect and edit broker settings,
// sensor and actuator mappings, and schema documents. Every successful
// mutation follows the same sequence: persist through the config store,
// restart the validation session so the change takes effect, broadcast
// "config_updated" to websocket listeners.
//
// # Endpoints
//
//	GET  /api/mqtt-settings        current broker block
//	POST /api/mqtt-settings        replace broker block
//	GET  /api/topic-mappings       sensor mapping list
//	POST /api/topic-mappings       replace sensor mapping list
//	GET  /api/actuator-mappings    actuator mapping list
//	POST /api/actuator-mappings    replace actuator mapping list
//	GET  /api/schemas              {"schemas": ["climate.json", ...]}
//	POST /api/schemas              create file {"filename", "content"}
//	GET  /api/schemas/{filename}   raw schema document
//	PUT  /api/schemas/{filename}   overwrite with raw JSON body
//	DEL  /api/schemas/{filename}   remove file, clear mapping references
//	GET  /health                   session state snapshot
//	GET  /ws/config-updates        websocket change feed
//
// Schema filenames must be plain names ending in .json; anything with
// path separators, '..', or an absolute prefix is rejected with 400.
// Creating a file that exists answers 409, touching one that does not
// answers 404.
//
// # Basic Usage
//
//	store, _ := config.NewStore("config.json", cfg, logger)
//	manager, _ := session.NewManager(store.SessionSettings, registry)
//	server, _ := api.NewServer(store, manager, api.WithLogger(logger))
//
//	go func() { _ = server.Start() }()
//	...
//	_ = server.Stop(ctx)
//
// POST responses carry {"message": "..."}; error responses carry
// {"error": "...", "status": code}. Mutating endpoints answer before the
// broker reconnect completes; poll /health for the session state.
package api
