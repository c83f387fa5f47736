//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"syscall/js"

	"github.com/gridline/gridline/engine-go/internal/engine"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

var eng *engine.Engine

func main() {
	eng = engine.New(engine.DefaultConfig())

	// Create the engine API object
	gridlineEngine := js.Global().Get("Object").New()

	// --- Commands (frontend → engine) ---
	gridlineEngine.Set("registerEdge", js.FuncOf(registerEdge))
	gridlineEngine.Set("unregisterEdge", js.FuncOf(unregisterEdge))
	gridlineEngine.Set("updateAnchors", js.FuncOf(updateAnchors))
	gridlineEngine.Set("addWaypoint", js.FuncOf(addWaypoint))
	gridlineEngine.Set("moveWaypoint", js.FuncOf(moveWaypoint))
	gridlineEngine.Set("removeWaypoint", js.FuncOf(removeWaypoint))
	gridlineEngine.Set("moveSegment", js.FuncOf(moveSegment))
	gridlineEngine.Set("updateConfig", js.FuncOf(updateConfig))
	gridlineEngine.Set("setRouteListener", js.FuncOf(setRouteListener))
	gridlineEngine.Set("destroy", js.FuncOf(destroy))

	// --- Queries (frontend ← engine) ---
	gridlineEngine.Set("processEdge", js.FuncOf(processEdge))
	gridlineEngine.Set("batchProcessEdges", js.FuncOf(batchProcessEdges))
	gridlineEngine.Set("getWaypoints", js.FuncOf(getWaypoints))
	gridlineEngine.Set("getEdgeInfo", js.FuncOf(getEdgeInfo))
	gridlineEngine.Set("getStatistics", js.FuncOf(getStatistics))

	// Register on global scope
	js.Global().Set("gridlineEngine", gridlineEngine)

	// Signal that WASM is ready
	js.Global().Set("gridlineWasmReady", js.ValueOf(true))

	// Keep Go runtime alive
	select {}
}

func errResult(err error) interface{} {
	return js.ValueOf(map[string]interface{}{"error": err.Error()})
}

func okResult() interface{} {
	return js.ValueOf(map[string]interface{}{"ok": true})
}

func jsonResult(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return errResult(err)
	}
	return js.ValueOf(string(data))
}

// --- Command Handlers ---

type edgeSpec struct {
	EdgeID    string           `json:"edgeId"`
	Source    geometry.Anchor  `json:"source"`
	Target    geometry.Anchor  `json:"target"`
	Waypoints []geometry.Point `json:"waypoints,omitempty"`
}

func registerEdge(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing edge JSON"})
	}

	var spec edgeSpec
	if err := json.Unmarshal([]byte(args[0].String()), &spec); err != nil {
		return errResult(err)
	}

	if err := eng.RegisterEdge(context.Background(), spec.EdgeID, spec.Source, spec.Target, spec.Waypoints); err != nil {
		return errResult(err)
	}
	return okResult()
}

func unregisterEdge(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return nil
	}
	eng.UnregisterEdge(args[0].String())
	return nil
}

func updateAnchors(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing edge JSON"})
	}

	var spec edgeSpec
	if err := json.Unmarshal([]byte(args[0].String()), &spec); err != nil {
		return errResult(err)
	}
	if err := eng.UpdateAnchors(spec.EdgeID, spec.Source, spec.Target); err != nil {
		return errResult(err)
	}
	return okResult()
}

func addWaypoint(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return js.ValueOf(map[string]interface{}{"error": "expected edgeId, x, y, segmentIndex"})
	}
	pos := geometry.Point{X: args[1].Float(), Y: args[2].Float()}
	if err := eng.AddWaypoint(args[0].String(), pos, args[3].Int()); err != nil {
		return errResult(err)
	}
	return okResult()
}

func moveWaypoint(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return js.ValueOf(map[string]interface{}{"error": "expected edgeId, index, x, y"})
	}
	pos := geometry.Point{X: args[2].Float(), Y: args[3].Float()}
	if err := eng.MoveWaypoint(args[0].String(), args[1].Int(), pos); err != nil {
		return errResult(err)
	}
	return okResult()
}

func removeWaypoint(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return js.ValueOf(map[string]interface{}{"error": "expected edgeId, index"})
	}
	if err := eng.RemoveWaypoint(args[0].String(), args[1].Int()); err != nil {
		return errResult(err)
	}
	return okResult()
}

func moveSegment(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return js.ValueOf(map[string]interface{}{"error": "expected edgeId, segmentIndex, dx, dy"})
	}
	delta := geometry.Point{X: args[2].Float(), Y: args[3].Float()}
	if err := eng.MoveSegment(args[0].String(), args[1].Int(), delta); err != nil {
		return errResult(err)
	}
	return okResult()
}

func updateConfig(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing config JSON"})
	}

	var update engine.ConfigUpdate
	if err := json.Unmarshal([]byte(args[0].String()), &update); err != nil {
		return errResult(err)
	}
	eng.UpdateConfig(update)
	return okResult()
}

func setRouteListener(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeFunction {
		eng.SetRouteListener(nil)
		return nil
	}

	callback := args[0]
	eng.SetRouteListener(func(edgeID string, result *routing.Result) {
		data, err := json.Marshal(result)
		if err != nil {
			return
		}
		callback.Invoke(edgeID, string(data))
	})
	return nil
}

func destroy(this js.Value, args []js.Value) interface{} {
	eng.Destroy()
	return nil
}

// --- Query Handlers ---

func processEdge(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing edgeId"})
	}

	op := routing.OpOptimizeWaypoints
	if len(args) > 1 && args[1].Type() == js.TypeString {
		op = routing.Operation(args[1].String())
	}

	result, err := eng.ProcessEdge(context.Background(), args[0].String(), op)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(result)
}

func batchProcessEdges(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing edge id list"})
	}

	var ids []string
	if err := json.Unmarshal([]byte(args[0].String()), &ids); err != nil {
		return errResult(err)
	}

	op := routing.OpOptimizeWaypoints
	if len(args) > 1 && args[1].Type() == js.TypeString {
		op = routing.Operation(args[1].String())
	}

	batch, err := eng.BatchProcessEdges(context.Background(), ids, op)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(batch)
}

func getWaypoints(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf("[]")
	}
	return jsonResult(eng.Waypoints(args[0].String()))
}

func getEdgeInfo(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf("null")
	}
	return jsonResult(eng.GetEdgeInfo(args[0].String()))
}

func getStatistics(this js.Value, args []js.Value) interface{} {
	return jsonResult(eng.GetStatistics())
}
