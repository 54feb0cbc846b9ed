// Command homeostatd runs the homeostat control core as an HTTP service or an
// MCP stdio server.
//
//	homeostatd serve --addr :8080 --db homeostat.db
//	homeostatd mcp
//	homeostatd bench --levels 1,2,4,8
//	homeostatd check --config homeostat.yaml
//
// Settings resolve as flags, then HOMEOSTAT_* environment variables (a .env
// file in the working directory is loaded first), then the YAML config file,
// then built-in defaults.
package main

func main() {
	Execute()
}
