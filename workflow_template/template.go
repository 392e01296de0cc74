package workflow_template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
)

var ErrNotFound = errors.New("workflow template not found")

type NodeMeta struct {
	Title string `json:"title"`
}

type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *NodeMeta      `json:"_meta,omitempty"`
}

func (n *Node) Title() string {
	if n == nil || n.Meta == nil {
		return ""
	}

	return n.Meta.Title
}

// Template is an API-format node graph keyed by node id. Node ids are opaque
// and may be renumbered between template revisions.
type Template map[string]*Node

// Load reads a template fresh from disk. A missing file yields ErrNotFound so
// callers can report it without treating it as an I/O fault.
func Load(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return nil, err
	}

	return Parse(data)
}

// Parse decodes a template keeping integer inputs as json.Number, so large
// seeds survive a decode/encode round trip untouched.
func Parse(data []byte) (Template, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var template Template

	err := decoder.Decode(&template)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow template: %w", err)
	}

	if template == nil {
		return nil, errors.New("invalid workflow template: empty document")
	}

	return template, nil
}

// NodeIDs returns node ids in numeric order, falling back to lexical order for
// ids that are not numbers.
func (t Template) NodeIDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		a, aErr := strconv.Atoi(ids[i])
		b, bErr := strconv.Atoi(ids[j])

		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})

	return ids
}

// SetInputs overwrites the named inputs on a node, creating the inputs map if
// the node has none.
func (t Template) SetInputs(nodeID string, values map[string]any) error {
	node, ok := t[nodeID]
	if !ok || node == nil {
		return fmt.Errorf("node %s not in template", nodeID)
	}

	if node.Inputs == nil {
		node.Inputs = make(map[string]any, len(values))
	}

	for key, value := range values {
		node.Inputs[key] = value
	}

	return nil
}

func (t Template) Input(nodeID, name string) (any, bool) {
	node, ok := t[nodeID]
	if !ok || node == nil {
		return nil, false
	}

	value, ok := node.Inputs[name]

	return value, ok
}
