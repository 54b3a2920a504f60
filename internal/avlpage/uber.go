package avlpage

// Clean implements spec §4.8's avl16cow_clean: reclaims every node whose
// death falls at or before keepSeqid, then drops every uber whose own
// seqid is at or before keepSeqid (the page's current uber is always
// preserved regardless of keepSeqid, since it is the live working
// version). By construction a node's death seqid is only ever set to the
// seqid that superseded it, and no uber with a higher seqid ever
// references a node dead at or before keepSeqid — so a flat scan over the
// node pool is equivalent to, and simpler than, walking each retiring
// uber's tree individually.
func (p *Page) Clean(keepSeqid uint64) {
	for i := range p.nodes {
		n := &p.nodes[i]
		if n.death != 0 && n.death <= keepSeqid {
			p.freeNode(int32(i))
		}
	}

	for i := range p.ubers {
		if i == p.curUber {
			continue
		}

		if p.ubers[i].used && p.ubers[i].seqid <= keepSeqid {
			p.ubers[i] = uberSlot{}
		}
	}
}

// Ubers returns the seqids of every live (non-reclaimed) uber, for tests
// and diagnostics.
func (p *Page) Ubers() []uint64 {
	var out []uint64

	for _, u := range p.ubers {
		if u.used {
			out = append(out, u.seqid)
		}
	}

	return out
}
