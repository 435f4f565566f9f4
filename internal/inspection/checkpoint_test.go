package inspection

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestFlattenKeepsDocumentOrder(t *testing.T) {
	doc := `
Zeta:
  Mirror: {question: "Mirrors intact?"}
  Horn: {question: "Does the horn work?"}
Alpha:
  Chain:
    question: "Chain slack?"
    issues: [loose]
    fixes: [tighten]
Middle:
  Seat: {question: "Seat torn?"}
  Lights: {question: "Lights working?"}
  Brakes: {question: "Brakes firm?"}
`
	tree, err := ParseTree([]byte(doc))
	if err != nil {
		t.Fatalf("ParseTree() error = %v", err)
	}
	got := tree.Flatten()
	want := []string{"Zeta/Mirror", "Zeta/Horn", "Alpha/Chain", "Middle/Seat", "Middle/Lights", "Middle/Brakes"}
	if len(got) != len(want) {
		t.Fatalf("len(Flatten()) = %d, want %d", len(got), len(want))
	}
	for i, cp := range got {
		if cp.Section+"/"+cp.Part != want[i] {
			t.Fatalf("checkpoint %d = %s/%s, want %s", i, cp.Section, cp.Part, want[i])
		}
	}
	if got[2].Issues[0] != "loose" || got[2].Fixes[0] != "tighten" {
		t.Fatalf("chain checkpoint = %+v", got[2])
	}
}

func TestFlattenCountMatchesParts(t *testing.T) {
	tree := DefaultTree()
	total := 0
	for _, s := range tree {
		total += len(s.Parts)
	}
	seq := tree.Flatten()
	if len(seq) != total || total != 3 {
		t.Fatalf("len(Flatten()) = %d, parts = %d, want 3", len(seq), total)
	}
	if seq[0].Part != "Front Tyre" || seq[1].Part != "Rear Tyre" || seq[2].Part != "Dashboard" {
		t.Fatalf("default order = %+v", seq)
	}
}

func TestParseTreeAcceptsJSON(t *testing.T) {
	tree, err := ParseTree([]byte(`{"B":{"x":{"question":"qx"}},"A":{"y":{"question":"qy"}}}`))
	if err != nil {
		t.Fatalf("ParseTree() error = %v", err)
	}
	seq := tree.Flatten()
	if seq[0].Section != "B" || seq[1].Section != "A" {
		t.Fatalf("json order lost: %+v", seq)
	}
}

func TestParseTreeErrors(t *testing.T) {
	cases := map[string]string{
		"empty":            ``,
		"list":             `- a`,
		"section scalar":   `Exterior: nope`,
		"missing question": `Exterior: {Tyre: {issues: [worn]}}`,
	}
	for name, doc := range cases {
		if _, err := ParseTree([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := ParseTree(nil); !errors.Is(err, ErrEmptyTree) {
		t.Fatalf("ParseTree(nil) error = %v, want ErrEmptyTree", err)
	}
}

func TestLoadTree(t *testing.T) {
	tree, err := LoadTree("")
	if err != nil || len(tree.Flatten()) != 3 {
		t.Fatalf("LoadTree(\"\") = %v, %v", tree, err)
	}

	path := filepath.Join(t.TempDir(), "checklist.yaml")
	if err := os.WriteFile(path, []byte("S:\n  P: {question: q}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	tree, err = LoadTree(path)
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	if seq := tree.Flatten(); len(seq) != 1 || seq[0].Question != "q" {
		t.Fatalf("loaded = %+v", seq)
	}
	if _, err := LoadTree(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTreeMarshalKeepsOrder(t *testing.T) {
	out, err := yaml.Marshal(DefaultTree())
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	text := string(out)
	if strings.Index(text, "Exterior") > strings.Index(text, "Interior") {
		t.Fatalf("sections reordered:\n%s", text)
	}
	if strings.Index(text, "Front Tyre") > strings.Index(text, "Rear Tyre") {
		t.Fatalf("parts reordered:\n%s", text)
	}
	back, err := ParseTree(out)
	if err != nil {
		t.Fatalf("ParseTree(marshalled) error = %v", err)
	}
	if len(back.Flatten()) != 3 {
		t.Fatalf("marshalled tree lost parts")
	}
}

func TestRenderInstruction(t *testing.T) {
	seq := DefaultTree().Flatten()
	first := RenderInstruction(seq[0], seq)
	if !strings.Contains(first, "Checkpoint 1 of 3") || !strings.Contains(first, seq[0].Question) {
		t.Fatalf("instruction = %q", first)
	}
	if !strings.Contains(first, "Low tread depth") || !strings.Contains(first, "Replace tyre") {
		t.Fatalf("instruction missing issues/fixes: %q", first)
	}
	if strings.Contains(first, "last checkpoint") {
		t.Fatalf("first instruction marked as last")
	}
	if last := RenderInstruction(seq[2], seq); !strings.Contains(last, "inspection completed") {
		t.Fatalf("last instruction = %q", last)
	}
}

func TestLoadGuide(t *testing.T) {
	guide, err := LoadGuide("")
	if err != nil || guide != DefaultGuide {
		t.Fatalf("LoadGuide(\"\") = %q, %v", guide, err)
	}
	path := filepath.Join(t.TempDir(), "guide.txt")
	if err := os.WriteFile(path, []byte("  be brief  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if guide, _ := LoadGuide(path); guide != "be brief" {
		t.Fatalf("LoadGuide() = %q", guide)
	}
}
