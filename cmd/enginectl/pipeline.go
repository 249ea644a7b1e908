package main

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/blockengine/pkg/host"
)

// registerAllBlocks parses a JSON array of host.BlockConfig and
// registers each one, failing fast on the first error so a bad
// pipeline file never partially registers.
func registerAllBlocks(rt *host.Runtime, blocksJSON []byte) error {
	var configs []json.RawMessage
	if err := json.Unmarshal(blocksJSON, &configs); err != nil {
		return fmt.Errorf("parse blocks file: %w", err)
	}

	for i, cfg := range configs {
		resp := rt.RegisterBlock(string(cfg))
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(resp), &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("register block %d: %s", i, errResp.Error)
		}
		fmt.Printf("registered block %d: %s\n", i, resp)
	}
	return nil
}

// createAllConnections parses a JSON array of host.ConnectionConfig and
// wires each one.
func createAllConnections(rt *host.Runtime, connectionsJSON []byte) error {
	var configs []json.RawMessage
	if err := json.Unmarshal(connectionsJSON, &configs); err != nil {
		return fmt.Errorf("parse connections file: %w", err)
	}

	for i, cfg := range configs {
		resp := rt.CreateConnection(string(cfg))
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(resp), &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("create connection %d: %s", i, errResp.Error)
		}
		fmt.Printf("connected %d: %s\n", i, resp)
	}
	return nil
}
