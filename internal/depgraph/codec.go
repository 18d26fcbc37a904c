package depgraph

import (
	"bytes"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary artifact layout (§4.1, §6). The container starts with the 4-byte
// signature "DEPS" followed by exactly one record block (field 8,
// length-delimited). Every record inside the block is framed the way
// protobuf wire format frames fields: a varint tag (field-number<<3 |
// wire-type) followed by the value. Integers are therefore LEB128-encoded
// and blobs are length-prefixed, matching §6 byte-for-byte, without
// depending on a generated .proto message (the record shapes are fixed and
// not meant to be extended).
const (
	magic = "DEPS"

	fieldMetadata   = 1
	fieldNode       = 2
	fieldFingerprint = 3
	fieldDependsOn  = 4
	fieldIdentifier = 5
	fieldBlock      = 8

	// sub-fields of the metadata record
	metaMajor   = 1
	metaMinor   = 2
	metaVersion = 3

	// sub-fields of the node record
	nodeKind       = 1
	nodeAspect     = 2
	nodeContextIdx = 3
	nodeNameIdx    = 4
	nodeIsProvides = 5
)

const (
	formatMajor = 1
	formatMinor = 0
)

// Encode serializes g as a per-file dependency artifact.
func Encode(g *Graph) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	pool, indexOf := buildIdentifierPool(g)

	var block []byte

	// metadata, always first
	var meta []byte
	meta = protowire.AppendTag(meta, metaMajor, protowire.VarintType)
	meta = protowire.AppendVarint(meta, formatMajor)
	meta = protowire.AppendTag(meta, metaMinor, protowire.VarintType)
	meta = protowire.AppendVarint(meta, formatMinor)
	meta = protowire.AppendTag(meta, metaVersion, protowire.BytesType)
	meta = protowire.AppendBytes(meta, []byte(g.CompilerVersion))
	block = protowire.AppendTag(block, fieldMetadata, protowire.BytesType)
	block = protowire.AppendBytes(block, meta)

	// identifier pool, positions 1..len(pool)-1 (position 0 is the implicit "")
	for _, ident := range pool[1:] {
		block = protowire.AppendTag(block, fieldIdentifier, protowire.BytesType)
		block = protowire.AppendBytes(block, []byte(ident))
	}

	for _, n := range g.Nodes {
		var node []byte
		node = protowire.AppendTag(node, nodeKind, protowire.VarintType)
		node = protowire.AppendVarint(node, uint64(n.Key.Designator.Kind))
		node = protowire.AppendTag(node, nodeAspect, protowire.VarintType)
		node = protowire.AppendVarint(node, uint64(n.Key.Aspect))
		node = protowire.AppendTag(node, nodeContextIdx, protowire.VarintType)
		node = protowire.AppendVarint(node, uint64(indexOf[n.Key.Designator.Context]))
		node = protowire.AppendTag(node, nodeNameIdx, protowire.VarintType)
		node = protowire.AppendVarint(node, uint64(indexOf[n.Key.Designator.Name]))
		node = protowire.AppendTag(node, nodeIsProvides, protowire.VarintType)
		if n.IsProvides {
			node = protowire.AppendVarint(node, 1)
		} else {
			node = protowire.AppendVarint(node, 0)
		}

		block = protowire.AppendTag(block, fieldNode, protowire.BytesType)
		block = protowire.AppendBytes(block, node)

		if n.Fingerprint != nil {
			block = protowire.AppendTag(block, fieldFingerprint, protowire.BytesType)
			block = protowire.AppendBytes(block, []byte(*n.Fingerprint))
		}
		for _, use := range n.Uses {
			block = protowire.AppendTag(block, fieldDependsOn, protowire.VarintType)
			block = protowire.AppendVarint(block, uint64(use))
		}
	}

	out := make([]byte, 0, len(magic)+len(block)+8)
	out = append(out, magic...)
	out = protowire.AppendTag(out, fieldBlock, protowire.BytesType)
	out = protowire.AppendBytes(out, block)
	return out, nil
}

// buildIdentifierPool assigns each distinct Name/Context string (except "")
// a stable position in the identifier pool, in first-use order, matching
// the reader's implicit pool[0] = "" convention.
func buildIdentifierPool(g *Graph) (pool []string, indexOf map[string]uint32) {
	pool = []string{""}
	indexOf = map[string]uint32{"": 0}
	intern := func(s string) {
		if s == "" {
			return
		}
		if _, ok := indexOf[s]; ok {
			return
		}
		indexOf[s] = uint32(len(pool))
		pool = append(pool, s)
	}
	for _, n := range g.Nodes {
		intern(n.Key.Designator.Name)
		intern(n.Key.Designator.Context)
	}
	return pool, indexOf
}

// Decode parses a per-file dependency artifact. Parsing is strict: the
// first malformed record fails the whole file.
func Decode(data []byte) (*Graph, error) {
	if !bytes.HasPrefix(data, []byte(magic)) {
		return nil, newParseError("bad_magic", 0, "missing %q signature", magic)
	}
	rest := data[len(magic):]

	num, typ, n := protowire.ConsumeTag(rest)
	if n < 0 {
		return nil, newParseError("unexpected_subblock", len(magic), "could not read block tag")
	}
	if num != fieldBlock || typ != protowire.BytesType {
		return nil, newParseError("unexpected_subblock", len(magic), "expected record block (field %d), got field %d", fieldBlock, num)
	}
	rest = rest[n:]
	block, n := protowire.ConsumeBytes(rest)
	if n < 0 {
		return nil, newParseError("unexpected_subblock", len(magic), "could not read block payload")
	}

	return decodeBlock(block, len(magic)+n-len(block))
}

func decodeBlock(block []byte, baseOffset int) (*Graph, error) {
	var (
		g             Graph
		pool          = []string{""}
		haveMetadata  bool
		nodes         []Node
		pendingFP     *string
	)

	off := 0
	flushFingerprint := func() {
		if pendingFP != nil && len(nodes) > 0 {
			nodes[len(nodes)-1].Fingerprint = pendingFP
		}
		pendingFP = nil
	}

	for len(block) > 0 {
		num, typ, tn := protowire.ConsumeTag(block)
		if tn < 0 {
			return nil, newParseError("unexpected_subblock", baseOffset+off, "could not read record tag")
		}
		block = block[tn:]
		off += tn

		switch num {
		case fieldMetadata:
			if haveMetadata {
				return nil, newParseError("malformed_metadata_record", baseOffset+off, "duplicate metadata record")
			}
			if typ != protowire.BytesType {
				return nil, newParseError("malformed_metadata_record", baseOffset+off, "wrong wire type")
			}
			payload, n := protowire.ConsumeBytes(block)
			if n < 0 {
				return nil, newParseError("malformed_metadata_record", baseOffset+off, "truncated payload")
			}
			block, off = block[n:], off+n
			version, err := decodeMetadata(payload)
			if err != nil {
				return nil, err
			}
			g.CompilerVersion = version
			haveMetadata = true

		case fieldIdentifier:
			if typ != protowire.BytesType {
				return nil, newParseError("malformed_identifier_record", baseOffset+off, "wrong wire type")
			}
			payload, n := protowire.ConsumeBytes(block)
			if n < 0 {
				return nil, newParseError("malformed_identifier_record", baseOffset+off, "truncated payload")
			}
			block, off = block[n:], off+n
			pool = append(pool, string(payload))

		case fieldNode:
			if !haveMetadata {
				return nil, newParseError("malformed_metadata_record", baseOffset+off, "node record before metadata")
			}
			flushFingerprint()
			if typ != protowire.BytesType {
				return nil, newParseError("malformed_node_record", baseOffset+off, "wrong wire type")
			}
			payload, n := protowire.ConsumeBytes(block)
			if n < 0 {
				return nil, newParseError("malformed_node_record", baseOffset+off, "truncated payload")
			}
			block, off = block[n:], off+n
			node, err := decodeNode(payload, pool, uint32(len(nodes)))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)

		case fieldFingerprint:
			if typ != protowire.BytesType {
				return nil, newParseError("malformed_fingerprint_record", baseOffset+off, "wrong wire type")
			}
			payload, n := protowire.ConsumeBytes(block)
			if n < 0 {
				return nil, newParseError("malformed_fingerprint_record", baseOffset+off, "truncated payload")
			}
			block, off = block[n:], off+n
			s := string(payload)
			pendingFP = &s

		case fieldDependsOn:
			if typ != protowire.VarintType {
				return nil, newParseError("malformed_depends_on_record", baseOffset+off, "wrong wire type")
			}
			v, n := protowire.ConsumeVarint(block)
			if n < 0 {
				return nil, newParseError("malformed_depends_on_record", baseOffset+off, "truncated payload")
			}
			block, off = block[n:], off+n
			if len(nodes) == 0 {
				return nil, newParseError("malformed_depends_on_record", baseOffset+off, "depends_on record before any node")
			}
			nodes[len(nodes)-1].Uses = append(nodes[len(nodes)-1].Uses, uint32(v))

		default:
			return nil, newParseError("unknown_kind", baseOffset+off, "unrecognized record field %d", num)
		}
	}
	flushFingerprint()

	if !haveMetadata {
		return nil, newParseError("malformed_metadata_record", baseOffset, "missing metadata record")
	}

	g.Nodes = nodes
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func decodeMetadata(payload []byte) (string, error) {
	var major, minor uint64
	var version string
	haveMajor, haveMinor := false, false
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return "", newParseError("malformed_metadata_record", 0, "truncated tag")
		}
		payload = payload[n:]
		switch num {
		case metaMajor:
			if typ != protowire.VarintType {
				return "", newParseError("malformed_metadata_record", 0, "bad major field type")
			}
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return "", newParseError("malformed_metadata_record", 0, "truncated major")
			}
			payload, major, haveMajor = payload[n:], v, true
		case metaMinor:
			if typ != protowire.VarintType {
				return "", newParseError("malformed_metadata_record", 0, "bad minor field type")
			}
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return "", newParseError("malformed_metadata_record", 0, "truncated minor")
			}
			payload, minor, haveMinor = payload[n:], v, true
		case metaVersion:
			if typ != protowire.BytesType {
				return "", newParseError("malformed_metadata_record", 0, "bad version field type")
			}
			b, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return "", newParseError("malformed_metadata_record", 0, "truncated version blob")
			}
			payload, version = payload[n:], string(b)
		default:
			return "", newParseError("malformed_metadata_record", 0, "unknown metadata field %d", num)
		}
	}
	if !haveMajor || !haveMinor {
		return "", newParseError("malformed_metadata_record", 0, "missing major/minor")
	}
	if major != formatMajor {
		return "", newParseError("malformed_metadata_record", 0, "unsupported major version %d", major)
	}
	_ = minor
	return version, nil
}

func decodeNode(payload []byte, pool []string, seq uint32) (Node, error) {
	var kindCode, aspectCode, ctxIdx, nameIdx uint64
	var isProvides bool
	seen := map[int]bool{}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return Node{}, newParseError("malformed_node_record", 0, "truncated tag")
		}
		payload = payload[n:]
		if typ != protowire.VarintType {
			return Node{}, newParseError("malformed_node_record", 0, "bad field type for field %d", num)
		}
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return Node{}, newParseError("malformed_node_record", 0, "truncated value for field %d", num)
		}
		payload = payload[n:]
		seen[int(num)] = true
		switch num {
		case nodeKind:
			kindCode = v
		case nodeAspect:
			aspectCode = v
		case nodeContextIdx:
			ctxIdx = v
		case nodeNameIdx:
			nameIdx = v
		case nodeIsProvides:
			isProvides = v != 0
		default:
			return Node{}, newParseError("malformed_node_record", 0, "unknown node field %d", num)
		}
	}
	for _, want := range []int{nodeKind, nodeAspect, nodeContextIdx, nodeNameIdx, nodeIsProvides} {
		if !seen[want] {
			return Node{}, newParseError("malformed_node_record", 0, "missing field %d", want)
		}
	}
	if kindCode >= 7 {
		return Node{}, newParseError("unknown_kind", 0, "kind_code %d out of range", kindCode)
	}
	if int(ctxIdx) >= len(pool) || int(nameIdx) >= len(pool) {
		return Node{}, newParseError("malformed_node_record", 0, "identifier index out of range")
	}

	aspect := Aspect(aspectCode)
	if aspect != Interface && aspect != Implementation {
		return Node{}, newParseError("malformed_node_record", 0, "bad aspect_code %d", aspectCode)
	}

	d := Designator{Kind: Kind(kindCode), Name: pool[nameIdx], Context: pool[ctxIdx]}
	key, err := NewKey(aspect, d)
	if err != nil {
		return Node{}, newParseError("bogus_name_or_context", 0, "%v", err)
	}
	return Node{Key: key, Sequence: seq, IsProvides: isProvides}, nil
}
