package store

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"canvas-sync/internal/model"
)

const nodeIDPrefix = "node"

// newRandomID returns prefix-<suffix> where suffix is n chars of base32 (lowercase, no padding).
func newRandomID(prefix string, n int) (string, error) {
	var b [10]byte // 80 bits -> 16 base32 chars max
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	suffix := strings.ToLower(enc.EncodeToString(b[:]))
	if n > 0 && n < len(suffix) {
		suffix = suffix[:n]
	}
	return prefix + "-" + suffix, nil
}

// NewNodeID allocates an id that no live or archived record references,
// at any nesting depth.
func (t *Tree) NewNodeID() (string, error) {
	for _, ln := range []int{8, 10, 12, 16} {
		for i := 0; i < 20; i++ {
			id, err := newRandomID(nodeIDPrefix, ln)
			if err != nil {
				return "", err
			}
			if !t.IDInUse(id) {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("could not allocate a free %s id", nodeIDPrefix)
}

// IDInUse reports whether any live record, or any archived snapshot nested
// anywhere in the tree, references id.
func (t *Tree) IDInUse(id string) bool {
	if id == model.RootID {
		return true
	}
	if _, ok := t.nodes[id]; ok {
		return true
	}
	found := false
	check := func(a model.ArchivedNode) {
		if a.Data.ID == id {
			found = true
		}
	}
	model.WalkArchived(t.rootArchived, check)
	for _, n := range t.nodes {
		if found {
			break
		}
		model.WalkArchived(n.ArchivedChildren, check)
	}
	return found
}
