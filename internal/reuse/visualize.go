package reuse

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"pimoffload/internal/bbl"
)

var siteColor = map[bbl.Site]string{
	bbl.CPU:     "lightblue",
	bbl.PIM:     "lightgreen",
	bbl.Invalid: "white",
}

// checkGraphviz verifies that the 'dot' command is available
func checkGraphviz() error {
	if _, err := exec.LookPath("dot"); err != nil {
		return fmt.Errorf("graphviz 'dot' command not found")
	}
	return nil
}

// RenderPNG converts a .dot file to .png using Graphviz.
func RenderPNG(dotFile, pngFile string) error {
	if err := checkGraphviz(); err != nil {
		return err
	}

	cmd := exec.Command("dot", "-Tpng", dotFile, "-o", pngFile)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("graphviz error: %w\nOutput: %s", err, string(output))
	}

	// Verify the PNG was created
	if _, err := os.Stat(pngFile); os.IsNotExist(err) {
		return fmt.Errorf("PNG file was not created: %s", pngFile)
	}
	return nil
}

// WriteDOT renders the trie in Graphviz DOT format. Internal nodes are boxes
// labelled with their block id, leaves are ellipses labelled head/count. When
// decision is non-nil every node is filled with its block's site color.
func WriteDOT(w io.Writer, t *Trie, decision bbl.Decision) error {
	var sb strings.Builder
	sb.WriteString("digraph ReuseTrie {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [fontname=\"Arial\"];\n")
	sb.WriteString("  edge [fontname=\"Arial\", fontsize=10];\n\n")
	sb.WriteString("  N0 [label=\"root\", shape=point];\n")

	for idx := 1; idx < len(t.nodes); idx++ {
		n := &t.nodes[idx]
		color := "white"
		if decision != nil && int(n.id) < len(decision) {
			color = siteColor[decision[n.id]]
		}
		if n.leaf {
			fmt.Fprintf(&sb, "  N%d [label=\"head=%d\\ncount=%d\", shape=ellipse, style=filled, fillcolor=\"%s\"];\n",
				idx, n.id, n.count, color)
		} else {
			fmt.Fprintf(&sb, "  N%d [label=\"BBL[%d]\", shape=box, style=\"rounded,filled\", fillcolor=\"%s\"];\n",
				idx, n.id, color)
		}
	}

	sb.WriteString("\n")

	for idx := 1; idx < len(t.nodes); idx++ {
		n := &t.nodes[idx]
		style := ""
		if n.leaf {
			style = " [style=dashed]"
		}
		fmt.Fprintf(&sb, "  N%d -> N%d%s;\n", n.parent, idx, style)
	}

	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteDOTFile writes the trie to dotFile.
func WriteDOTFile(dotFile string, t *Trie, decision bbl.Decision) error {
	f, err := os.Create(dotFile)
	if err != nil {
		return fmt.Errorf("creating DOT file: %w", err)
	}
	if err := WriteDOT(f, t, decision); err != nil {
		f.Close()
		return fmt.Errorf("writing DOT file: %w", err)
	}
	return f.Close()
}
