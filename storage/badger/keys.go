package badger

import "encoding/binary"

// Key prefixes for different data types
const (
	chunkRecordPrefix   = "chkrec:"
	chunkDocumentPrefix = "chkdoc:"
	checkpointPrefix    = "chkpt:"
	groundingPrefix     = "ground:"
)

// appendSegment writes s with a 2-byte big-endian length so that one segment
// can never be mistaken for a prefix of another.
func appendSegment(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// makeCollectionPrefix generates the scan prefix for every chunk in a collection.
// Format: prefix:len(collection):collection
func makeCollectionPrefix(collectionID string) []byte {
	buf := make([]byte, 0, len(chunkRecordPrefix)+2+len(collectionID))
	buf = append(buf, chunkRecordPrefix...)
	return appendSegment(buf, collectionID)
}

// makeDocumentPrefix generates the scan prefix for every chunk of one document.
// Format: prefix:len(collection):collection:len(document):document
func makeDocumentPrefix(collectionID, documentID string) []byte {
	return appendSegment(makeCollectionPrefix(collectionID), documentID)
}

// makeChunkKey generates the key for a single chunk record.
// The index is written BigEndian so lexicographic order matches chunk order.
func makeChunkKey(collectionID, documentID string, index int) []byte {
	return binary.BigEndian.AppendUint32(makeDocumentPrefix(collectionID, documentID), uint32(index))
}

// makeDocumentPointerKey generates the key mapping a document to its collection.
func makeDocumentPointerKey(documentID string) []byte {
	return append([]byte(chunkDocumentPrefix), documentID...)
}

// makeCheckpointKey generates a key for batch job checkpoints.
func makeCheckpointKey(name string) []byte {
	return append([]byte(checkpointPrefix), name...)
}

// makeGroundingKey generates the key for a topic's last-known-good grounding.
// Format: prefix:len(collection):collection:len(topic):topic
func makeGroundingKey(collectionID, topic string) []byte {
	return appendSegment(appendSegment([]byte(groundingPrefix), collectionID), topic)
}
