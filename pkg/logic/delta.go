// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"bytes"
	"fmt"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// Delta frame format, shared by the server encoder and client decoder:
// [frame marker][u32 descriptor index][u8 error flag][value bytes when
// the error flag is clear].

// AppendDeltaFrame writes one frame for the descriptor at idx.
func AppendDeltaFrame(w *schema.StreamWriter, idx uint32, v *schema.Value) {
	w.WriteMarker(schema.MarkerFrame)
	w.WriteU32(idx)
	w.WriteBool(v.IsError())
	if !v.IsError() {
		v.WriteTo(w)
	}
}

// FieldDelta is one decoded delta frame.
type FieldDelta struct {
	Index int
	Err   bool
	Value schema.Value
}

// DecodeDeltas parses a delta payload into its frames.
func DecodeDeltas(payload []byte) ([]FieldDelta, error) {
	br := bytes.NewReader(payload)
	r := schema.NewStreamReader(br)
	var out []FieldDelta
	for br.Len() > 0 {
		if err := r.CheckMarker(schema.MarkerFrame); err != nil {
			return nil, err
		}
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if idx >= MaxFields {
			return nil, fmt.Errorf("delta frame index %d out of range", idx)
		}
		errFlag, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		d := FieldDelta{Index: int(idx), Err: errFlag}
		if !errFlag {
			if err := d.Value.ReadFrom(r); err != nil {
				return nil, err
			}
		}
		out = append(out, d)
	}
	return out, nil
}
