package buildrecord

import (
	"fmt"
	"sort"

	"github.com/swincd/driver/internal/vfs"
	"gopkg.in/yaml.v3"
)

const (
	keyVersion   = "version"
	keyOptions   = "options"
	keyBuildTime = "build_time"
	keyInputs    = "inputs"

	tagDirty   = "!dirty"
	tagPrivate = "!private"
)

// Encode serializes r as the keyed text document described in §4.5/§6:
// block style for the root, double-quoted string scalars, flow style for
// the [seconds, nanos] time tuples, and a status tag (!dirty / !private /
// absent) on each input's value.
func Encode(r *Record, argsHash *string) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Style: 0}

	add := func(key string, val *yaml.Node) {
		root.Content = append(root.Content, quotedScalar(key), val)
	}

	add(keyVersion, quotedScalar(r.SwiftVersion))
	if argsHash != nil {
		add(keyOptions, quotedScalar(*argsHash))
	} else {
		add(keyOptions, nullScalar())
	}
	add(keyBuildTime, timeTuple(r.BuildTime))

	paths := make([]string, 0, len(r.Inputs))
	for f := range r.Inputs {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)

	inputsNode := &yaml.Node{Kind: yaml.MappingNode, Style: 0}
	for _, p := range paths {
		info := r.Inputs[vfs.File{Path: p}]
		v := timeTuple(info.PreviousModTime)
		if tag := statusTag(info.Status); tag != "" {
			v.Tag = tag
		}
		inputsNode.Content = append(inputsNode.Content, quotedScalar(p), v)
	}
	add(keyInputs, inputsNode)

	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	return yaml.Marshal(doc)
}

func statusTag(s Status) string {
	switch s {
	case NeedsCascadingBuild, NewlyAdded:
		return tagDirty
	case NeedsNonCascadingBuild:
		return tagPrivate
	default:
		return ""
	}
}

func quotedScalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s, Style: yaml.DoubleQuotedStyle}
}

func nullScalar() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "~"}
}

func intScalar(v int64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", v)}
}

func timeTuple(t vfs.Timestamp) *yaml.Node {
	return &yaml.Node{
		Kind:  yaml.SequenceNode,
		Style: yaml.FlowStyle,
		Content: []*yaml.Node{
			intScalar(t.Seconds),
			intScalar(int64(t.Nanos)),
		},
	}
}

// Decode parses a Record document. Any top-level key outside {version,
// options, build_time, inputs} fails with an UnexpectedSectionError; a
// missing version or inputs key is fatal; a missing options key is
// tolerated (the caller should treat args_hash as absent and write a fresh
// hash on the next round).
func Decode(data []byte) (*Record, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("buildrecord: invalid YAML: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("buildrecord: document root is not a mapping")
	}
	root := doc.Content[0]

	var (
		haveVersion, haveInputs bool
		r                       Record
	)
	r.Inputs = make(map[vfs.File]InputInfo)

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		switch key {
		case keyVersion:
			r.SwiftVersion = val.Value
			haveVersion = true
		case keyOptions:
			if val.Tag != "!!null" && val.Value != "" {
				h := val.Value
				r.ArgsHash = &h
			}
		case keyBuildTime:
			ts, err := decodeTimeTuple(val)
			if err != nil {
				return nil, fmt.Errorf("buildrecord: build_time: %w", err)
			}
			r.BuildTime = ts
		case keyInputs:
			if val.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("buildrecord: inputs is not a mapping")
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				path := val.Content[j].Value
				entry := val.Content[j+1]
				ts, err := decodeTimeTuple(entry)
				if err != nil {
					return nil, fmt.Errorf("buildrecord: inputs[%q]: %w", path, err)
				}
				status := UpToDate
				switch entry.Tag {
				case tagDirty:
					status = NeedsCascadingBuild
				case tagPrivate:
					status = NeedsNonCascadingBuild
				case "", "!!seq":
					status = UpToDate
				default:
					return nil, fmt.Errorf("buildrecord: inputs[%q]: unrecognized tag %q", path, entry.Tag)
				}
				r.Inputs[vfs.File{Path: path}] = InputInfo{Status: status, PreviousModTime: ts}
			}
			haveInputs = true
		default:
			return nil, &UnexpectedSectionError{Key: key}
		}
	}

	if !haveVersion {
		return nil, fmt.Errorf("buildrecord: missing required %q field", keyVersion)
	}
	if !haveInputs {
		return nil, fmt.Errorf("buildrecord: missing required %q field", keyInputs)
	}
	return &r, nil
}

// UnexpectedSectionError is returned when the document has a top-level key
// outside the four recognized ones.
type UnexpectedSectionError struct{ Key string }

func (e *UnexpectedSectionError) Error() string {
	return fmt.Sprintf("buildrecord: unexpected top-level section %q", e.Key)
}

func decodeTimeTuple(n *yaml.Node) (vfs.Timestamp, error) {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 2 {
		return vfs.Timestamp{}, fmt.Errorf("expected a 2-element [seconds, nanos] sequence")
	}
	var sec, nanos int64
	if _, err := fmt.Sscan(n.Content[0].Value, &sec); err != nil {
		return vfs.Timestamp{}, err
	}
	if _, err := fmt.Sscan(n.Content[1].Value, &nanos); err != nil {
		return vfs.Timestamp{}, err
	}
	return vfs.Timestamp{Seconds: sec, Nanos: int32(nanos)}, nil
}
