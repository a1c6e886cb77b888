package compiler

import (
	"bytes"
	"container/heap"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// leafScript is one candidate Taproot script-path leaf, with its clause
// weight used for the Huffman tree build.
type leafScript struct {
	script []byte
	weight uint64
}

// tapNode is either a leaf (script non-nil) or an internal branch of two
// children, formed during the Huffman build.
type tapNode struct {
	script   []byte
	children [2]*tapNode
	hash     chainhash.Hash
}

func leafHash(script []byte) chainhash.Hash {
	var buf bytes.Buffer
	buf.WriteByte(byte(txscript.BaseLeafVersion))
	writeCompactSize(&buf, uint64(len(script)))
	buf.Write(script)
	return *chainhash.TaggedHash(chainhash.TagTapLeaf, buf.Bytes())
}

func branchHash(a, b chainhash.Hash) chainhash.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return *chainhash.TaggedHash(chainhash.TagTapBranch, a[:], b[:])
}

func writeCompactSize(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(0xfd)
		buf.WriteByte(byte(n))
		buf.WriteByte(byte(n >> 8))
	default:
		buf.WriteByte(0xfe)
		for i := 0; i < 4; i++ {
			buf.WriteByte(byte(n >> (8 * i)))
		}
	}
}

// heapItem is a (weight, node) pair sitting in the Huffman min-heap.
// order preserves insertion order so that equal-weight pops are resolved
// by input order, keeping the tree deterministic.
type heapItem struct {
	weight uint64
	node   *tapNode
	order  int
}

type nodeHeap []heapItem

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight < h[j].weight
	}
	return h[i].order < h[j].order
}
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// taprootLeaf is one script-path spend candidate after the tree is built:
// its script and its Merkle inclusion proof, ordered nearest-sibling-first
// as BIP-341 control blocks require.
type taprootLeaf struct {
	script         []byte
	inclusionProof []byte
	depth          int
}

// buildTaprootTree combines scripts into a Huffman-weighted binary tree:
// repeatedly pop the two lowest-weight nodes and combine them, weights
// unit by default. Returns the merkle root hash and,
// for every input leaf, its inclusion proof for PSBT control blocks.
func buildTaprootTree(leaves []leafScript) (chainhash.Hash, []taprootLeaf, error) {
	if len(leaves) == 0 {
		return chainhash.Hash{}, nil, nil
	}
	if len(leaves) == 1 {
		return leafHash(leaves[0].script), []taprootLeaf{{script: leaves[0].script, depth: 0}}, nil
	}

	h := &nodeHeap{}
	heap.Init(h)
	for i, l := range leaves {
		n := &tapNode{script: l.script, hash: leafHash(l.script)}
		heap.Push(h, heapItem{weight: l.weight, node: n, order: i})
	}

	order := len(leaves)
	for h.Len() > 1 {
		a := heap.Pop(h).(heapItem)
		b := heap.Pop(h).(heapItem)

		parent := &tapNode{
			children: [2]*tapNode{a.node, b.node},
			hash:     branchHash(a.node.hash, b.node.hash),
		}
		heap.Push(h, heapItem{weight: saturatingAdd(a.weight, b.weight), node: parent, order: order})
		order++
	}

	root := (*h)[0].node
	proofs := make(map[*tapNode][]byte)
	collectProofs(root, nil, proofs)

	out := make([]taprootLeaf, len(leaves))
	for i, l := range leaves {
		for n, proof := range proofs {
			if n.script != nil && bytes.Equal(n.script, l.script) {
				out[i] = taprootLeaf{script: l.script, inclusionProof: proof, depth: len(proof) / 32}
				break
			}
		}
	}
	return root.hash, out, nil
}

// collectProofs walks the tree from root to every leaf, handing each leaf
// the sibling hashes encountered along the way in leaf-to-root order (the
// order BIP-341's control-block verification consumes them in).
func collectProofs(n *tapNode, ancestorsRootFirst [][]byte, out map[*tapNode][]byte) {
	if n.script != nil {
		// ancestorsRootFirst was accumulated root-first; the control
		// block wants nearest-sibling-first, so reverse it here.
		proof := make([]byte, 0, 32*len(ancestorsRootFirst))
		for i := len(ancestorsRootFirst) - 1; i >= 0; i-- {
			proof = append(proof, ancestorsRootFirst[i]...)
		}
		out[n] = proof
		return
	}
	leftHash := append([]byte{}, n.children[0].hash[:]...)
	rightHash := append([]byte{}, n.children[1].hash[:]...)
	collectProofs(n.children[0], append(append([][]byte{}, ancestorsRootFirst...), rightHash), out)
	collectProofs(n.children[1], append(append([][]byte{}, ancestorsRootFirst...), leftHash), out)
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// SentinelInternalKey is the deterministic Taproot internal key used when
// no bare Key leaf is available among a contract's compiled branches:
// sha256 of 32 bytes of 0x01, interpreted as an x-only public key. This
// exact construction is required so every implementation derives the same
// address for a contract with no key leaf.
func SentinelInternalKey() (*btcec.PublicKey, error) {
	sentinel := sha256.Sum256(bytes.Repeat([]byte{1}, 32))
	pub, err := schnorr.ParsePubKey(sentinel[:])
	if err != nil {
		return nil, err
	}
	return pub, nil
}
