package shapes

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Group is the input shapes of one round of staging, compute and retrieval.
// Named groups carry one name per shape.
type Group struct {
	Names  []string
	Shapes [][]int
}

// BatchSize is the largest leading dimension among the group's shapes.
func (g Group) BatchSize() int {
	ret := 0
	for _, s := range g.Shapes {
		if len(s) > 0 && s[0] > ret {
			ret = s[0]
		}
	}
	return ret
}

func (g Group) HasNames() bool { return len(g.Names) > 0 }

func (g Group) Clone() Group {
	c := Group{Names: append([]string(nil), g.Names...)}
	for _, s := range g.Shapes {
		c.Shapes = append(c.Shapes, append([]int(nil), s...))
	}
	return c
}

// Lookup returns the shape named name.
func (g Group) Lookup(name string) ([]int, bool) {
	for i, n := range g.Names {
		if n == name {
			return g.Shapes[i], true
		}
	}
	return nil, false
}

// Reorder arranges a named group in the order of names.
func (g *Group) Reorder(names []string) error {
	if !g.HasNames() {
		return errors.New("cannot reorder shapes without names")
	}
	if len(names) != len(g.Names) {
		return errors.Errorf("got %d names for %d shapes", len(names), len(g.Names))
	}
	reordered := make([][]int, 0, len(names))
	for _, n := range names {
		s, ok := g.Lookup(n)
		if !ok {
			return errors.Errorf("cannot find %q in %v", n, g.Names)
		}
		reordered = append(reordered, s)
	}
	g.Names = append([]string(nil), names...)
	g.Shapes = reordered
	return nil
}

func (g Group) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, s := range g.Shapes {
		if i > 0 {
			sb.WriteString(", ")
		}
		if g.HasNames() {
			fmt.Fprintf(&sb, "%s: ", g.Names[i])
		}
		fmt.Fprint(&sb, s)
	}
	sb.WriteString("]")
	return sb.String()
}

type Groups []Group

func (gs Groups) HasNames() bool {
	return len(gs) > 0 && gs[0].HasNames()
}

func (gs Groups) BatchSizes() []int {
	ret := make([]int, len(gs))
	for i, g := range gs {
		ret[i] = g.BatchSize()
	}
	return ret
}

func (gs Groups) Reorder(names []string) error {
	for i := range gs {
		if err := gs[i].Reorder(names); err != nil {
			return errors.Wrapf(err, "shape group %d", i)
		}
	}
	return nil
}

func (gs Groups) Validate() error {
	if len(gs) == 0 {
		return errors.New("at least one shape group is required")
	}
	want := len(gs[0].Shapes)
	for i, g := range gs {
		if g.HasNames() != gs.HasNames() {
			return errors.Errorf("shape group %d mixes named and positional shapes", i)
		}
		if g.HasNames() && len(g.Names) != len(g.Shapes) {
			return errors.Errorf("shape group %d has %d names for %d shapes", i, len(g.Names), len(g.Shapes))
		}
		if len(g.Shapes) != want {
			return errors.Errorf("shape group %d has %d shapes, group 0 has %d", i, len(g.Shapes), want)
		}
	}
	return nil
}

func (gs Groups) String() string {
	var sb strings.Builder
	sb.WriteString("\nInput Shape Summary:\n")
	for i, g := range gs {
		fmt.Fprintf(&sb, "======== Shape group %d ========\n%s\n", i, g)
	}
	sb.WriteString("========================\n")
	return sb.String()
}

// runConfig is the on-disk layout of shape groups. inputType 0 lists
// positional shapes, inputType 1 maps input names to shapes.
type runConfig struct {
	InputType int       `yaml:"inputType"`
	InputDims yaml.Node `yaml:"inputDims"`
}

// Parse reads shape groups from YAML or JSON.
func Parse(data []byte) (Groups, error) {
	var rc runConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, errors.Wrap(err, "parse run config")
	}
	var gs Groups
	switch rc.InputType {
	case 0:
		var dims [][][]int
		if err := rc.InputDims.Decode(&dims); err != nil {
			return nil, errors.Wrap(err, "decode positional inputDims")
		}
		for _, d := range dims {
			gs = append(gs, Group{Shapes: d})
		}
	case 1:
		var dims []yaml.Node
		if err := rc.InputDims.Decode(&dims); err != nil {
			return nil, errors.Wrap(err, "decode named inputDims")
		}
		for _, n := range dims {
			g, err := decodeNamed(&n)
			if err != nil {
				return nil, err
			}
			gs = append(gs, g)
		}
	default:
		return nil, errors.Errorf("unsupported inputType %d", rc.InputType)
	}
	if err := gs.Validate(); err != nil {
		return nil, err
	}
	return gs, nil
}

// decodeNamed keeps the key order of the mapping node.
func decodeNamed(n *yaml.Node) (Group, error) {
	if n.Kind != yaml.MappingNode {
		return Group{}, errors.Errorf("line %d: named shape group must be a mapping", n.Line)
	}
	var g Group
	for i := 0; i+1 < len(n.Content); i += 2 {
		var dims []int
		if err := n.Content[i+1].Decode(&dims); err != nil {
			return Group{}, errors.Wrapf(err, "shape %q", n.Content[i].Value)
		}
		g.Names = append(g.Names, n.Content[i].Value)
		g.Shapes = append(g.Shapes, dims)
	}
	return g, nil
}

func Load(path string) (Groups, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read run config")
	}
	return Parse(data)
}

// Single builds one positional group, applying batch overrides to the leading
// dimension of every ranked shape.
func Single(dims [][]int, batch []int) (Groups, error) {
	g := Group{}
	for _, d := range dims {
		s := make([]int, len(d))
		copy(s, d)
		g.Shapes = append(g.Shapes, s)
	}
	if len(batch) > 0 {
		if len(batch) != len(g.Shapes) {
			return nil, errors.Errorf("got %d batch sizes for %d inputs", len(batch), len(g.Shapes))
		}
		for i, b := range batch {
			if len(g.Shapes[i]) > 0 {
				g.Shapes[i][0] = b
			}
		}
	}
	return Groups{g}, nil
}

// ParseDims reads "1,3,224,224;1,10" style shape lists, "_" is a scalar.
func ParseDims(s string) ([][]int, error) {
	var out [][]int
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "_" {
			out = append(out, []int{})
			continue
		}
		var dims []int
		for _, f := range strings.Split(part, ",") {
			var d int
			if _, err := fmt.Sscanf(strings.TrimSpace(f), "%d", &d); err != nil {
				return nil, errors.Wrapf(err, "bad dim %q in %q", f, part)
			}
			dims = append(dims, d)
		}
		out = append(out, dims)
	}
	return out, nil
}
