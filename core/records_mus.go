// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"errors"
	"time"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// ErrMalformedRecord indicates encoded bytes do not describe a valid record.
var ErrMalformedRecord = errors.New("malformed record")

// Serializers for the records persisted in the chunk index. Times are stored
// as UTC seconds plus nanoseconds so the zero time survives a round trip.
var (
	StringsMUS      mus.Serializer[[]string]     = sliceMUS[string]{elem: ord.String}
	VectorMUS       mus.Serializer[[]float32]    = sliceMUS[float32]{elem: raw.Float32}
	TimeMUS         mus.Serializer[time.Time]    = timeMUS{}
	ChunkTypeMUS    mus.Serializer[ChunkType]    = chunkTypeMUS{}
	CheckpointMUS   mus.Serializer[Checkpoint]   = checkpointMUS{}
	SearchResultMUS mus.Serializer[SearchResult] = searchResultMUS{}
	GroundingMUS    mus.Serializer[Grounding]    = groundingMUS{}
)

// sliceMUS encodes a varint length followed by each element.
type sliceMUS[T any] struct {
	elem mus.Serializer[T]
}

func (s sliceMUS[T]) Marshal(v []T, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, e := range v {
		n += s.elem.Marshal(e, bs[n:])
	}
	return
}

func (s sliceMUS[T]) Unmarshal(bs []byte) (v []T, n int, err error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return
	}
	// Every element takes at least one byte.
	if length < 0 || length > len(bs)-n {
		err = ErrMalformedRecord
		return
	}
	if length == 0 {
		return
	}
	v = make([]T, length)
	var m int
	for i := range v {
		v[i], m, err = s.elem.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
	}
	return
}

func (s sliceMUS[T]) Size(v []T) (size int) {
	size = varint.Int.Size(len(v))
	for _, e := range v {
		size += s.elem.Size(e)
	}
	return
}

func (s sliceMUS[T]) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type timeMUS struct{}

func (timeMUS) Marshal(t time.Time, bs []byte) (n int) {
	n = varint.Int64.Marshal(t.Unix(), bs)
	n += varint.Int.Marshal(t.Nanosecond(), bs[n:])
	return
}

func (timeMUS) Unmarshal(bs []byte) (t time.Time, n int, err error) {
	sec, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	nsec, m, err := varint.Int.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return
	}
	if nsec < 0 || nsec >= int(time.Second) {
		err = ErrMalformedRecord
		return
	}
	t = time.Unix(sec, int64(nsec)).UTC()
	return
}

func (timeMUS) Size(t time.Time) int {
	return varint.Int64.Size(t.Unix()) + varint.Int.Size(t.Nanosecond())
}

func (s timeMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type chunkTypeMUS struct{}

func (chunkTypeMUS) Marshal(t ChunkType, bs []byte) int {
	return ord.String.Marshal(string(t), bs)
}

func (chunkTypeMUS) Unmarshal(bs []byte) (ChunkType, int, error) {
	s, n, err := ord.String.Unmarshal(bs)
	return ChunkType(s), n, err
}

func (chunkTypeMUS) Size(t ChunkType) int {
	return ord.String.Size(string(t))
}

func (chunkTypeMUS) Skip(bs []byte) (int, error) {
	return ord.String.Skip(bs)
}

type checkpointMUS struct{}

func (checkpointMUS) Marshal(c Checkpoint, bs []byte) (n int) {
	n = ord.String.Marshal(c.Name, bs)
	n += ord.String.Marshal(c.LastDocumentID, bs[n:])
	n += varint.Int.Marshal(c.Processed, bs[n:])
	n += varint.Int.Marshal(c.Failed, bs[n:])
	n += TimeMUS.Marshal(c.UpdatedAt, bs[n:])
	return
}

func (checkpointMUS) Unmarshal(bs []byte) (c Checkpoint, n int, err error) {
	var m int
	if c.Name, m, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	n += m
	if c.LastDocumentID, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if c.Processed, m, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if c.Failed, m, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	c.UpdatedAt, m, err = TimeMUS.Unmarshal(bs[n:])
	n += m
	return
}

func (checkpointMUS) Size(c Checkpoint) int {
	return ord.String.Size(c.Name) +
		ord.String.Size(c.LastDocumentID) +
		varint.Int.Size(c.Processed) +
		varint.Int.Size(c.Failed) +
		TimeMUS.Size(c.UpdatedAt)
}

func (s checkpointMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type searchResultMUS struct{}

func (searchResultMUS) Marshal(r SearchResult, bs []byte) (n int) {
	n = ord.String.Marshal(r.ChunkID, bs)
	n += ord.String.Marshal(r.DocumentID, bs[n:])
	n += ord.String.Marshal(r.Text, bs[n:])
	n += ChunkTypeMUS.Marshal(r.Type, bs[n:])
	n += varint.Int.Marshal(r.Index, bs[n:])
	n += raw.Float32.Marshal(r.Similarity, bs[n:])
	n += StringsMUS.Marshal(r.Keywords, bs[n:])
	return
}

func (searchResultMUS) Unmarshal(bs []byte) (r SearchResult, n int, err error) {
	var m int
	if r.ChunkID, m, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	n += m
	if r.DocumentID, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Text, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Type, m, err = ChunkTypeMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Index, m, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Similarity, m, err = raw.Float32.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	r.Keywords, m, err = StringsMUS.Unmarshal(bs[n:])
	n += m
	return
}

func (searchResultMUS) Size(r SearchResult) int {
	return ord.String.Size(r.ChunkID) +
		ord.String.Size(r.DocumentID) +
		ord.String.Size(r.Text) +
		ChunkTypeMUS.Size(r.Type) +
		varint.Int.Size(r.Index) +
		raw.Float32.Size(r.Similarity) +
		StringsMUS.Size(r.Keywords)
}

func (s searchResultMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// resultPtrMUS adapts SearchResultMUS to the pointer slices used by Grounding.
type resultPtrMUS struct{}

func (resultPtrMUS) Marshal(r *SearchResult, bs []byte) int {
	return SearchResultMUS.Marshal(*r, bs)
}

func (resultPtrMUS) Unmarshal(bs []byte) (*SearchResult, int, error) {
	r, n, err := SearchResultMUS.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	return &r, n, nil
}

func (resultPtrMUS) Size(r *SearchResult) int {
	return SearchResultMUS.Size(*r)
}

func (resultPtrMUS) Skip(bs []byte) (int, error) {
	return SearchResultMUS.Skip(bs)
}

var resultsMUS = sliceMUS[*SearchResult]{elem: resultPtrMUS{}}

type groundingMUS struct{}

func (groundingMUS) Marshal(g Grounding, bs []byte) (n int) {
	n = ord.String.Marshal(g.CollectionID, bs)
	n += ord.String.Marshal(g.Topic, bs[n:])
	n += resultsMUS.Marshal(g.Results, bs[n:])
	n += TimeMUS.Marshal(g.UpdatedAt, bs[n:])
	return
}

func (groundingMUS) Unmarshal(bs []byte) (g Grounding, n int, err error) {
	var m int
	if g.CollectionID, m, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	n += m
	if g.Topic, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if g.Results, m, err = resultsMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	g.UpdatedAt, m, err = TimeMUS.Unmarshal(bs[n:])
	n += m
	return
}

func (groundingMUS) Size(g Grounding) int {
	return ord.String.Size(g.CollectionID) +
		ord.String.Size(g.Topic) +
		resultsMUS.Size(g.Results) +
		TimeMUS.Size(g.UpdatedAt)
}

func (s groundingMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}
