package storage

// Key layout for the graph adapter. Records and adjacency index entries
// share one Badger keyspace, distinguished by a short prefix. The NUL
// separator cannot appear in validated keys, so prefix scans never bleed
// into a neighboring node's index ("eo\x00a\x00" does not match edges of
// node "ab").
//
//	n\x00<nodeID>                 node record
//	e\x00<edgeID>                 edge record
//	eo\x00<fromID>\x00<edgeID>    outgoing adjacency entry
//	ei\x00<toID>\x00<edgeID>      incoming adjacency entry
const (
	graphSep = "\x00"

	nodeRecordPrefix = "n" + graphSep
	edgeRecordPrefix = "e" + graphSep
	outIndexPrefix   = "eo" + graphSep
	inIndexPrefix    = "ei" + graphSep
)

func nodeKey(id string) []byte {
	return []byte(nodeRecordPrefix + id)
}

func nodeIDFromKey(key []byte) string {
	return string(key[len(nodeRecordPrefix):])
}

func edgeKey(edgeID string) []byte {
	return []byte(edgeRecordPrefix + edgeID)
}

func outIndexKey(fromID, edgeID string) []byte {
	return []byte(outIndexPrefix + fromID + graphSep + edgeID)
}

// outIndexScanPrefix covers every outgoing adjacency entry of one node.
func outIndexScanPrefix(fromID string) []byte {
	return []byte(outIndexPrefix + fromID + graphSep)
}

func inIndexKey(toID, edgeID string) []byte {
	return []byte(inIndexPrefix + toID + graphSep + edgeID)
}

// inIndexScanPrefix covers every incoming adjacency entry of one node.
func inIndexScanPrefix(toID string) []byte {
	return []byte(inIndexPrefix + toID + graphSep)
}

// edgeIDFromIndexKey strips the scan prefix, leaving the edge id suffix.
func edgeIDFromIndexKey(key, scanPrefix []byte) string {
	return string(key[len(scanPrefix):])
}
