package debug

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cwfork/internal/engine"

	"github.com/tidwall/pretty"
	"github.com/xlab/treeprint"
)

// PrintResult logs the result in JSON format
func PrintResult(res *engine.Result) {
	jsonData, err := json.Marshal(res)
	if err != nil {
		slog.Error("Failed to marshal result to JSON", "error", err)
		return
	}

	slog.Debug("Simulation result", "json", string(pretty.Pretty(jsonData)))
}

// FormatJSON indents raw JSON, colored for terminals when color is set.
// Anything that is not JSON is returned unchanged.
func FormatJSON(raw []byte, color bool) string {
	if !json.Valid(raw) {
		return string(raw)
	}
	out := pretty.Pretty(raw)
	if color {
		out = pretty.Color(out, nil)
	}
	return strings.TrimRight(string(out), "\n")
}

// RenderCallTrace draws the call graph rooted at node 0
func RenderCallTrace(graph map[int][]int, labels map[int]string) string {
	tree := treeprint.NewWithRoot(labels[0])
	addChildren(tree, 0, graph, labels)
	return tree.String()
}

func addChildren(tree treeprint.Tree, id int, graph map[int][]int, labels map[int]string) {
	for _, child := range graph[id] {
		if len(graph[child]) == 0 {
			tree.AddNode(labels[child])
			continue
		}
		addChildren(tree.AddBranch(labels[child]), child, graph, labels)
	}
}

// WriteResult writes a human readable report of res
func WriteResult(w io.Writer, res *engine.Result, color bool) error {
	var sb strings.Builder

	if res.Failed() {
		fmt.Fprintf(&sb, "❌ %s: %s\n", res.ErrKind(), res.ErrMsg())
	} else {
		fmt.Fprintf(&sb, "✅ ok (height %d)\n", res.Height())
	}
	if addr := res.ContractAddress(); addr != "" {
		fmt.Fprintf(&sb, "contract: %s\n", addr)
	}
	if data := res.Data(); len(data) > 0 {
		fmt.Fprintf(&sb, "data:\n%s\n", FormatJSON(data, color))
	}
	for i, entry := range res.Log() {
		fmt.Fprintf(&sb, "log[%d]:\n%s\n", i, FormatJSON([]byte(entry), color))
	}
	if out := res.Stdout(); out != "" {
		fmt.Fprintf(&sb, "stdout:\n%s\n", out)
	}
	if graph, labels := res.CallTrace(); len(graph) > 1 {
		fmt.Fprintf(&sb, "call trace:\n%s", RenderCallTrace(graph, labels))
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
