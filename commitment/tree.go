// Package commitment implements the append-only, Merkle-committed store of
// cast ballots. Every accepted ballot becomes a leaf of a per-poll binary
// Merkle tree; roots are versioned by leaf count and inclusion proofs let any
// party verify a ballot was counted without seeing other ballots.
//
// The tree shape follows the transparency-log construction: leaves are
// appended left to right and an odd node is carried up unpaired until two
// nodes combine. There is no padding or duplication, so different leaf
// counts always produce different trees. Hashing is SHA-256 with one byte of
// domain separation (0x00 for leaves, 0x01 for internal nodes) over the
// canonical deterministic-CBOR serialization of the ballot.
package commitment

import (
	"bytes"
	"crypto/sha256"
	"math/bits"

	"github.com/choices-project/pollcore/types"
)

const (
	leafHashPrefix = 0x00
	nodeHashPrefix = 0x01
)

// LeafHash returns the hash of a leaf with its canonical serialization data.
func LeafHash(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafHashPrefix})
	h.Write(data)
	return h.Sum(nil)
}

// NodeHash returns the hash of an internal node from its two children.
func NodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodeHashPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// EmptyRoot returns the root of the empty tree, the hash of the empty string.
func EmptyRoot() []byte {
	h := sha256.Sum256(nil)
	return h[:]
}

// splitPoint returns the largest power of two strictly less than n. Valid
// for n >= 2.
func splitPoint(n uint64) uint64 {
	return uint64(1) << (bits.Len64(n-1) - 1)
}

// RootFromLeafHashes recomputes the root over an ordered sequence of leaf
// hashes. Any verifier can reproduce the committed root from the stored
// leaves with this function alone.
func RootFromLeafHashes(hashes [][]byte) []byte {
	switch n := uint64(len(hashes)); n {
	case 0:
		return EmptyRoot()
	case 1:
		return hashes[0]
	default:
		k := splitPoint(n)
		return NodeHash(RootFromLeafHashes(hashes[:k]), RootFromLeafHashes(hashes[k:]))
	}
}

// proofPath returns the sibling hashes from leaf index up to the root of the
// tree over the given leaf hashes.
func proofPath(index uint64, hashes [][]byte) [][]byte {
	n := uint64(len(hashes))
	if n <= 1 {
		return nil
	}
	k := splitPoint(n)
	if index < k {
		return append(proofPath(index, hashes[:k]), RootFromLeafHashes(hashes[k:]))
	}
	return append(proofPath(index-k, hashes[k:]), RootFromLeafHashes(hashes[:k]))
}

// Proof is an inclusion proof: the sibling path from one leaf to the root of
// the tree at a specific size. It is valid only against the root it was
// generated for.
type Proof struct {
	PollID    types.HexBytes   `json:"pollId"`
	LeafIndex uint64           `json:"leafIndex"`
	TreeSize  uint64           `json:"treeSize"`
	LeafHash  types.HexBytes   `json:"leafHash"`
	Siblings  []types.HexBytes `json:"siblings"`
	Root      types.HexBytes   `json:"root"`
}

// VerifyProof checks an inclusion proof against an explicitly provided leaf
// hash and root. It is a pure function with no store access, usable by any
// external verifier. Mutating a single byte of the proof, the leaf hash or
// the root makes it return false.
func VerifyProof(proof *Proof, leafHash, root []byte) bool {
	if proof == nil || proof.LeafIndex >= proof.TreeSize {
		return false
	}
	computed := rootFromProof(proof.LeafIndex, proof.TreeSize, leafHash, proof.Siblings)
	return computed != nil && bytes.Equal(computed, root)
}

// rootFromProof recomputes the root implied by an inclusion proof. The
// sibling path splits into an "inner" part, where the leaf's position within
// the subtree decides left/right, and a "border" part of left siblings only,
// covering the unpaired carries on the right edge of the tree.
func rootFromProof(index, size uint64, leafHash []byte, siblings []types.HexBytes) []byte {
	inner := bits.Len64(index ^ (size - 1))
	border := bits.OnesCount64(index >> uint(inner))
	if len(siblings) != inner+border {
		return nil
	}
	res := leafHash
	for i, sib := range siblings[:inner] {
		if (index>>uint(i))&1 == 1 {
			res = NodeHash(sib, res)
		} else {
			res = NodeHash(res, sib)
		}
	}
	for _, sib := range siblings[inner:] {
		res = NodeHash(sib, res)
	}
	return res
}
