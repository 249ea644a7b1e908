// Package graph validates a dataflow graph of blocks and connections
// before the engine runs it, and computes the topological execution
// order the engine follows (spec §4.14).
package graph

import (
	"sort"
	"strconv"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
)

// ValidationError is a fatal graph defect: it makes the graph unusable
// until fixed. NodeID and Suggestion are optional context.
type ValidationError struct {
	NodeID     string `json:"node_id,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationWarning is a non-fatal observation about the graph; it does
// not affect Valid.
type ValidationWarning struct {
	NodeID     string `json:"node_id,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// GraphValidationResult is the accumulated outcome of every check.
type GraphValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

func ok() GraphValidationResult {
	return GraphValidationResult{Valid: true}
}

func (r *GraphValidationResult) addError(nodeID, message, suggestion string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{NodeID: nodeID, Message: message, Suggestion: suggestion})
}

func (r *GraphValidationResult) addWarning(nodeID, message, suggestion string) {
	r.Warnings = append(r.Warnings, ValidationWarning{NodeID: nodeID, Message: message, Suggestion: suggestion})
}

func (r *GraphValidationResult) merge(other GraphValidationResult) {
	if !other.Valid {
		r.Valid = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Validate runs all nine checks, in order, merging their results into
// one (spec §4.14).
func Validate(blocks map[string]block.Block, connections []port.Connection, entryPoints []string) GraphValidationResult {
	result := ok()
	result.merge(checkReferencedBlocksExist(blocks, connections))
	result.merge(checkDuplicateConnections(connections))
	result.merge(checkPortExistence(blocks, connections))
	result.merge(checkPortDirections(blocks, connections))
	result.merge(checkPortTypeCompatibility(blocks, connections))
	result.merge(checkRequiredInputsConnected(blocks, connections, entryPoints))
	result.merge(checkMultipleConnections(blocks, connections))
	result.merge(checkCycles(blocks, connections))
	result.merge(checkDisconnectedBlocks(blocks, connections))
	return result
}

func checkReferencedBlocksExist(blocks map[string]block.Block, connections []port.Connection) GraphValidationResult {
	result := ok()
	for _, c := range connections {
		if _, exists := blocks[c.SourceBlockID]; !exists {
			result.addError(c.SourceBlockID, "connection references unknown source block: "+c.SourceBlockID, "register the block before connecting it")
		}
		if _, exists := blocks[c.TargetBlockID]; !exists {
			result.addError(c.TargetBlockID, "connection references unknown target block: "+c.TargetBlockID, "register the block before connecting it")
		}
	}
	return result
}

type connKey struct {
	srcBlock, srcPort, tgtBlock, tgtPort string
}

func checkDuplicateConnections(connections []port.Connection) GraphValidationResult {
	result := ok()
	seen := make(map[connKey]bool)
	for _, c := range connections {
		key := connKey{c.SourceBlockID, c.SourcePortID, c.TargetBlockID, c.TargetPortID}
		if seen[key] {
			result.addError("", "duplicate connection: "+c.SourceBlockID+"."+c.SourcePortID+" -> "+c.TargetBlockID+"."+c.TargetPortID, "remove the duplicate connection")
			continue
		}
		seen[key] = true
	}
	return result
}

// findPort searches a block's inputs then outputs for a port id,
// mirroring validation.rs's find_port (which chains inputs and outputs).
func findPort(b block.Block, portID string) (port.Port, bool) {
	if p, found := block.FindPort(b.Inputs(), portID); found {
		return p, true
	}
	return block.FindPort(b.Outputs(), portID)
}

func checkPortExistence(blocks map[string]block.Block, connections []port.Connection) GraphValidationResult {
	result := ok()
	for _, c := range connections {
		src, srcOK := blocks[c.SourceBlockID]
		if srcOK {
			if _, found := findPort(src, c.SourcePortID); !found {
				result.addError(c.SourceBlockID, "source port '"+c.SourcePortID+"' does not exist on block "+c.SourceBlockID, "")
			}
		}
		tgt, tgtOK := blocks[c.TargetBlockID]
		if tgtOK {
			if _, found := findPort(tgt, c.TargetPortID); !found {
				result.addError(c.TargetBlockID, "target port '"+c.TargetPortID+"' does not exist on block "+c.TargetBlockID, "")
			}
		}
	}
	return result
}

func checkPortDirections(blocks map[string]block.Block, connections []port.Connection) GraphValidationResult {
	result := ok()
	for _, c := range connections {
		if src, found := blocks[c.SourceBlockID]; found {
			if p, pFound := findPort(src, c.SourcePortID); pFound && p.Dir != port.DirectionOutput {
				result.addError(c.SourceBlockID, "source port '"+c.SourcePortID+"' is not an output port", "connect from an output port")
			}
		}
		if tgt, found := blocks[c.TargetBlockID]; found {
			if p, pFound := findPort(tgt, c.TargetPortID); pFound && p.Dir != port.DirectionInput {
				result.addError(c.TargetBlockID, "target port '"+c.TargetPortID+"' is not an input port", "connect to an input port")
			}
		}
	}
	return result
}

func checkPortTypeCompatibility(blocks map[string]block.Block, connections []port.Connection) GraphValidationResult {
	result := ok()
	for _, c := range connections {
		src, srcOK := blocks[c.SourceBlockID]
		tgt, tgtOK := blocks[c.TargetBlockID]
		if !srcOK || !tgtOK {
			continue
		}
		srcPort, srcFound := findPort(src, c.SourcePortID)
		tgtPort, tgtFound := findPort(tgt, c.TargetPortID)
		if !srcFound || !tgtFound {
			continue
		}
		if !srcPort.Type.Compatible(tgtPort.Type) {
			result.addError(c.TargetBlockID, "incompatible port types: "+c.SourceBlockID+"."+c.SourcePortID+" ("+string(srcPort.Type)+") -> "+c.TargetBlockID+"."+c.TargetPortID+" ("+string(tgtPort.Type)+")", "insert an adapter block or change port types")
		}
	}
	return result
}

func isEntryPoint(entryPoints []string, blockID string) bool {
	for _, id := range entryPoints {
		if id == blockID {
			return true
		}
	}
	return false
}

func checkRequiredInputsConnected(blocks map[string]block.Block, connections []port.Connection, entryPoints []string) GraphValidationResult {
	result := ok()
	connectedTargets := make(map[connKey2]bool)
	for _, c := range connections {
		connectedTargets[connKey2{c.TargetBlockID, c.TargetPortID}] = true
	}
	for id, b := range blocks {
		if isEntryPoint(entryPoints, id) {
			continue
		}
		for _, p := range b.Inputs() {
			if p.Required && !connectedTargets[connKey2{id, p.ID}] {
				result.addError(id, "required input port '"+p.ID+"' is not connected", "connect an upstream block or mark this block as an entry point")
			}
		}
	}
	return result
}

type connKey2 struct {
	blockID, portID string
}

func checkMultipleConnections(blocks map[string]block.Block, connections []port.Connection) GraphValidationResult {
	result := ok()
	counts := make(map[connKey2]int)
	for _, c := range connections {
		counts[connKey2{c.TargetBlockID, c.TargetPortID}]++
	}
	for key, count := range counts {
		if count <= 1 {
			continue
		}
		b, found := blocks[key.blockID]
		if !found {
			continue
		}
		p, found := block.FindPort(b.Inputs(), key.portID)
		if found && !p.Multiple {
			result.addError(key.blockID, "input port '"+key.portID+"' has "+strconv.Itoa(count)+" incoming connections but does not accept multiple", "mark the port multiple or remove extra connections")
		}
	}
	return result
}

func checkCycles(blocks map[string]block.Block, connections []port.Connection) GraphValidationResult {
	result := ok()
	inDegree := make(map[string]int)
	adj := make(map[string][]string)
	for id := range blocks {
		inDegree[id] = 0
	}
	for _, c := range connections {
		_, srcOK := blocks[c.SourceBlockID]
		_, tgtOK := blocks[c.TargetBlockID]
		if !srcOK || !tgtOK {
			continue
		}
		adj[c.SourceBlockID] = append(adj[c.SourceBlockID], c.TargetBlockID)
		inDegree[c.TargetBlockID]++
	}

	queue := zeroInDegreeQueue(blocks, inDegree)
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited < len(blocks) {
		var cycleNodes []string
		for id, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)
		msg := "graph contains a cycle involving blocks:"
		for _, id := range cycleNodes {
			msg += " " + id
		}
		result.addError("", msg, "remove a connection to break the cycle")
	}
	return result
}

func zeroInDegreeQueue(blocks map[string]block.Block, inDegree map[string]int) []string {
	var ids []string
	for id := range blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	return queue
}

func checkDisconnectedBlocks(blocks map[string]block.Block, connections []port.Connection) GraphValidationResult {
	result := ok()
	if len(blocks) <= 1 {
		return result
	}
	mentioned := make(map[string]bool)
	for _, c := range connections {
		mentioned[c.SourceBlockID] = true
		mentioned[c.TargetBlockID] = true
	}
	var ids []string
	for id := range blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !mentioned[id] {
			result.addWarning(id, "block '"+id+"' is not connected to any other block", "connect it or remove it from the graph")
		}
	}
	return result
}

// TopologicalSort orders blockIDs via Kahn's algorithm restricted to the
// given connections, with ties broken by insertion order. It reports
// false if a cycle remains after all zero-in-degree nodes are drained
// (spec §4.14).
func TopologicalSort(blockIDs []string, connections []port.Connection) ([]string, bool) {
	idSet := make(map[string]bool, len(blockIDs))
	for _, id := range blockIDs {
		idSet[id] = true
	}

	inDegree := make(map[string]int, len(blockIDs))
	adj := make(map[string][]string)
	for _, id := range blockIDs {
		inDegree[id] = 0
	}
	for _, c := range connections {
		if !idSet[c.SourceBlockID] || !idSet[c.TargetBlockID] {
			continue
		}
		adj[c.SourceBlockID] = append(adj[c.SourceBlockID], c.TargetBlockID)
		inDegree[c.TargetBlockID]++
	}

	var queue []string
	for _, id := range blockIDs {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(blockIDs))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, next := range adj[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(blockIDs) {
		return nil, false
	}
	return order, true
}
