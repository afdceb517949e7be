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

package storage

import (
	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/kbsearch/core"
)

// ChunkRecordMUS encodes ChunkRecord in field order.
var ChunkRecordMUS mus.Serializer[ChunkRecord] = chunkRecordMUS{}

type chunkRecordMUS struct{}

func (chunkRecordMUS) Marshal(r ChunkRecord, bs []byte) (n int) {
	n = ord.String.Marshal(r.ID, bs)
	n += ord.String.Marshal(r.DocumentID, bs[n:])
	n += ord.String.Marshal(r.CollectionID, bs[n:])
	n += ord.String.Marshal(r.Text, bs[n:])
	n += varint.Int.Marshal(r.Index, bs[n:])
	n += core.ChunkTypeMUS.Marshal(r.Type, bs[n:])
	n += core.StringsMUS.Marshal(r.Keywords, bs[n:])
	n += core.VectorMUS.Marshal(r.Vector, bs[n:])
	n += core.TimeMUS.Marshal(r.CreatedAt, bs[n:])
	return
}

func (chunkRecordMUS) Unmarshal(bs []byte) (r ChunkRecord, n int, err error) {
	var m int
	if r.ID, m, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	n += m
	if r.DocumentID, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.CollectionID, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Text, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Index, m, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Type, m, err = core.ChunkTypeMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Keywords, m, err = core.StringsMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	if r.Vector, m, err = core.VectorMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += m
	r.CreatedAt, m, err = core.TimeMUS.Unmarshal(bs[n:])
	n += m
	return
}

func (chunkRecordMUS) Size(r ChunkRecord) int {
	return ord.String.Size(r.ID) +
		ord.String.Size(r.DocumentID) +
		ord.String.Size(r.CollectionID) +
		ord.String.Size(r.Text) +
		varint.Int.Size(r.Index) +
		core.ChunkTypeMUS.Size(r.Type) +
		core.StringsMUS.Size(r.Keywords) +
		core.VectorMUS.Size(r.Vector) +
		core.TimeMUS.Size(r.CreatedAt)
}

func (s chunkRecordMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}
