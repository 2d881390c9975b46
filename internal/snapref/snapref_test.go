package snapref

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/browsercx/schema"
)

func TestBuildTreeAssignsPositionalRefs(t *testing.T) {
	nodes := []schema.Element{
		{Role: "button", Name: "Submit", Selector: "#submit"},
		{Role: "link", Name: "Home", Selector: "nav a:nth-of-type(1)"},
		{Role: "textbox", Name: "Email", Selector: "#email"},
	}
	tree, refs := BuildTree(nodes)
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}
	for i, want := range []string{"#submit", "nav a:nth-of-type(1)", "#email"} {
		ref := schema.RefID(fmt.Sprintf("e%d", i+1))
		entry, ok := refs[ref]
		if !ok {
			t.Fatalf("missing ref %s", ref)
		}
		if entry.Selector != want {
			t.Fatalf("ref %s selector = %q, want %q", ref, entry.Selector, want)
		}
	}
	lines := strings.Split(strings.TrimRight(tree, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), tree)
	}
	if lines[0] != `- button "Submit" [ref=e1]` {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
}

func TestBuildTreeDuplicateDisambiguation(t *testing.T) {
	nodes := []schema.Element{
		{Role: "button", Name: "Delete", Selector: "tr:nth-child(1) button"},
		{Role: "button", Name: "Delete", Selector: "tr:nth-child(2) button"},
		{Role: "link", Name: "Settings", Selector: "#settings"},
	}
	tree, refs := BuildTree(nodes)

	first := refs["e1"]
	if first.Nth == nil || *first.Nth != 0 {
		t.Fatalf("expected e1 nth=0, got %v", first.Nth)
	}
	second := refs["e2"]
	if second.Nth == nil || *second.Nth != 1 {
		t.Fatalf("expected e2 nth=1, got %v", second.Nth)
	}
	if !strings.Contains(tree, "[ref=e2] [nth=1]") {
		t.Fatalf("expected [nth=1] for e2 in tree: %q", tree)
	}
	if strings.Contains(tree, "[nth=0]") {
		t.Fatalf("nth=0 must not be rendered: %q", tree)
	}

	third := refs["e3"]
	if third.Nth != nil {
		t.Fatalf("singleton group must not carry nth, got %d", *third.Nth)
	}
	if strings.Contains(tree, "[ref=e3] [nth=") {
		t.Fatalf("singleton must not render nth: %q", tree)
	}
}

func TestBuildTreeDeterministic(t *testing.T) {
	nodes := []schema.Element{
		{Role: "button", Name: "  Save   draft ", Selector: "#a"},
		{Role: "button", Name: "Save draft", Selector: "#b"},
		{Role: "checkbox", Name: "Remember me", Selector: "#c", Suffix: "[checked]"},
		{Role: "img", Selector: "#d"},
	}
	tree1, refs1 := BuildTree(nodes)
	tree2, refs2 := BuildTree(nodes)
	if tree1 != tree2 {
		t.Fatalf("tree not deterministic:\n%q\n%q", tree1, tree2)
	}
	if !reflect.DeepEqual(refs1, refs2) {
		t.Fatalf("refs not deterministic")
	}
}

func TestBuildTreeNormalizesNamesIntoOneGroup(t *testing.T) {
	nodes := []schema.Element{
		{Role: "button", Name: " Save \t now ", Selector: "#a"},
		{Role: "button", Name: "Save now", Selector: "#b"},
	}
	_, refs := BuildTree(nodes)
	if refs["e1"].Nth == nil || refs["e2"].Nth == nil {
		t.Fatalf("whitespace variants must share a duplicate group")
	}
	if refs["e1"].Name != "Save now" || refs["e2"].Name != "Save now" {
		t.Fatalf("names not normalized: %q / %q", refs["e1"].Name, refs["e2"].Name)
	}
}

func TestBuildTreeRendersSuffixAndUnnamed(t *testing.T) {
	nodes := []schema.Element{
		{Role: "img", Selector: "#logo"},
		{Role: "checkbox", Name: "Agree", Selector: "#agree", Suffix: "[checked]"},
	}
	tree, _ := BuildTree(nodes)
	lines := strings.Split(strings.TrimRight(tree, "\n"), "\n")
	if lines[0] != "- img [ref=e1]" {
		t.Fatalf("unnamed node rendered wrong: %q", lines[0])
	}
	if lines[1] != `- checkbox "Agree" [ref=e2] [checked]` {
		t.Fatalf("suffix rendered wrong: %q", lines[1])
	}
}

func TestBuildTreeEmptyInput(t *testing.T) {
	tree, refs := BuildTree(nil)
	if tree != "" {
		t.Fatalf("expected empty tree, got %q", tree)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no refs, got %d", len(refs))
	}
}
