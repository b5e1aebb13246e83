package state

import (
	"fmt"

	"github.com/Jackmin801/torch-state-server/lib/tensor"
)

// --------------------------------------------------------------------------
// Leaf Values
// --------------------------------------------------------------------------

// Value is a tagged variant for the leaves of a store: one of the four
// scalar kinds or an Array. The encode boundary switches exhaustively over
// these types instead of using runtime reflection.
type Value interface {
	value()
}

type String string
type Int64 int64
type Float64 float64
type Bool bool

// Array wraps a tensor leaf. The tensor's backing storage is owned by the
// store and must not be mutated while the server is running.
type Array struct {
	Tensor *tensor.Tensor
}

func (String) value()  {}
func (Int64) value()   {}
func (Float64) value() {}
func (Bool) value()    {}
func (Array) value()   {}

// --------------------------------------------------------------------------
// Tree Nodes
// --------------------------------------------------------------------------

// Node is an internal node of the store tree: a Map (string keys), a List
// (integer indices), or a Leaf holding a Value.
type Node interface {
	node()
}

type Map map[string]Node
type List []Node

// Leaf wraps a Value as a tree node.
type Leaf struct {
	Value Value
}

func (Map) node()  {}
func (List) node() {}
func (Leaf) node() {}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store is the read-only nested value tree served over the network. It is
// constructed once before the server starts; Resolve performs no mutation,
// so concurrent use needs no locking.
type Store struct {
	root Map
}

// NewStore wraps a fully built root map. The caller must not modify the
// tree afterwards.
func NewStore(root Map) *Store {
	return &Store{root: root}
}

// Resolve walks the tree segment by segment and returns the leaf value the
// path addresses. Any absent segment, out-of-range index, or attempt to
// index into a leaf yields ErrPathNotFound carrying the full path text.
func (s *Store) Resolve(p Path) (Value, error) {
	var node Node = s.root
	for _, seg := range p.Segments() {
		switch n := node.(type) {
		case Map:
			if seg.IsIndex {
				return nil, fmt.Errorf("%w: %q (integer segment %d into a mapping)", ErrPathNotFound, p.String(), seg.Index)
			}
			child, ok := n[seg.Key]
			if !ok {
				return nil, fmt.Errorf("%w: %q (no key %q)", ErrPathNotFound, p.String(), seg.Key)
			}
			node = child
		case List:
			if !seg.IsIndex {
				return nil, fmt.Errorf("%w: %q (string segment %q into a list)", ErrPathNotFound, p.String(), seg.Key)
			}
			if seg.Index >= len(n) || n[seg.Index] == nil {
				return nil, fmt.Errorf("%w: %q (index %d out of range)", ErrPathNotFound, p.String(), seg.Index)
			}
			node = n[seg.Index]
		case Leaf:
			return nil, fmt.Errorf("%w: %q (segment %s indexes into a leaf)", ErrPathNotFound, p.String(), seg)
		default:
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, p.String())
		}
	}

	leaf, ok := node.(Leaf)
	if !ok {
		return nil, fmt.Errorf("%w: %q (path addresses an internal node)", ErrPathNotFound, p.String())
	}
	return leaf.Value, nil
}

// --------------------------------------------------------------------------
// Tree Construction
// --------------------------------------------------------------------------

// Insert places a value at the given path, creating intermediate Maps and
// Lists as needed. It is a construction-time helper only: it must not be
// called once the tree is being served.
func (m Map) Insert(p Path, v Value) error {
	segs := p.Segments()
	if len(segs) == 0 {
		return fmt.Errorf("cannot insert at empty path")
	}
	if segs[0].IsIndex {
		return fmt.Errorf("cannot insert %q: root segments must be string keys", p.String())
	}

	child, err := insertNode(m[segs[0].Key], segs[1:], v, p)
	if err != nil {
		return err
	}
	m[segs[0].Key] = child
	return nil
}

// insertNode recursively builds the subtree for the remaining segments and
// returns the (possibly replaced) node. Lists are grown with nil slots when
// an index lies beyond the current length.
func insertNode(node Node, segs []Segment, v Value, p Path) (Node, error) {
	if len(segs) == 0 {
		if node != nil {
			return nil, fmt.Errorf("cannot insert %q: destination already occupied", p.String())
		}
		return Leaf{Value: v}, nil
	}

	seg := segs[0]
	if seg.IsIndex {
		list, ok := node.(List)
		if node != nil && !ok {
			return nil, fmt.Errorf("cannot insert %q: segment %s conflicts with existing node", p.String(), seg)
		}
		for len(list) <= seg.Index {
			list = append(list, nil)
		}
		child, err := insertNode(list[seg.Index], segs[1:], v, p)
		if err != nil {
			return nil, err
		}
		list[seg.Index] = child
		return list, nil
	}

	mp, ok := node.(Map)
	if node == nil {
		mp = Map{}
	} else if !ok {
		return nil, fmt.Errorf("cannot insert %q: segment %s conflicts with existing node", p.String(), seg)
	}
	child, err := insertNode(mp[seg.Key], segs[1:], v, p)
	if err != nil {
		return nil, err
	}
	mp[seg.Key] = child
	return mp, nil
}
