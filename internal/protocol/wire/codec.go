package wire

import (
	"bytes"
	"fmt"
	"time"

	"github.com/marmos91/dittovfs/pkg/vfs"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Encode serializes v with XDR.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for outbound messages built from our own types.
// Failing to build an outbound message is unrecoverable, so it panics.
func MustEncode(v any) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(fmt.Sprintf("failed to build outbound message: %v", err))
	}
	return data
}

// Decode deserializes data into v. Trailing bytes are rejected.
func Decode(data []byte, v any) error {
	r := bytes.NewReader(data)
	if _, err := xdr.Unmarshal(r, v); err != nil {
		return fmt.Errorf("xdr decode %T: %w", v, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("xdr decode %T: %d trailing bytes", v, r.Len())
	}
	return nil
}

// ============================================================================
// Directory entries
// ============================================================================

// FileInfoToRecord converts a directory entry to its wire form.
func FileInfoToRecord(fi *vfs.FileInfo) *FileInfoRecord {
	rec := &FileInfoRecord{
		Name:          fi.Name,
		Type:          uint32(fi.Type),
		Size:          fi.Size,
		Mode:          fi.Mode,
		SymlinkTarget: fi.SymlinkTarget,
	}
	if !fi.ModTime.IsZero() {
		rec.MtimeSec = fi.ModTime.Unix()
		rec.MtimeNsec = uint32(fi.ModTime.Nanosecond())
	}
	return rec
}

// RecordToFileInfo converts a wire record back into a directory entry.
func RecordToFileInfo(rec *FileInfoRecord) *vfs.FileInfo {
	fi := &vfs.FileInfo{
		Name:          rec.Name,
		Type:          vfs.FileType(rec.Type),
		Size:          rec.Size,
		Mode:          rec.Mode,
		SymlinkTarget: rec.SymlinkTarget,
	}
	if rec.MtimeSec != 0 || rec.MtimeNsec != 0 {
		fi.ModTime = time.Unix(rec.MtimeSec, int64(rec.MtimeNsec))
	}
	return fi
}

// EncodeGotInfo builds a GotInfo body for entries.
func EncodeGotInfo(entries []*vfs.FileInfo) []byte {
	msg := GotInfo{Records: make([]Record, len(entries))}
	for i, fi := range entries {
		msg.Records[i] = Record{Data: MustEncode(FileInfoToRecord(fi))}
	}
	return MustEncode(&msg)
}

// DecodeGotInfo decodes a GotInfo body. Records that fail to decode are
// skipped and counted in malformed; err is only set when the envelope
// itself is unreadable.
func DecodeGotInfo(body []byte) (entries []*vfs.FileInfo, malformed int, err error) {
	var msg GotInfo
	if err := Decode(body, &msg); err != nil {
		return nil, 0, err
	}

	entries = make([]*vfs.FileInfo, 0, len(msg.Records))
	for _, r := range msg.Records {
		var rec FileInfoRecord
		if err := Decode(r.Data, &rec); err != nil || rec.Name == "" {
			malformed++
			continue
		}
		entries = append(entries, RecordToFileInfo(&rec))
	}
	return entries, malformed, nil
}

// ============================================================================
// Mount specs and records
// ============================================================================

// SpecToWire converts a mount spec to its wire form.
func SpecToWire(s *vfs.MountSpec) MountSpec {
	w := MountSpec{MountPrefix: s.MountPrefix, Items: make([]MountSpecItem, len(s.Items))}
	for i, it := range s.Items {
		w.Items[i] = MountSpecItem{Key: it.Key, Value: it.Value}
	}
	return w
}

// SpecFromWire converts and validates a wire spec.
func SpecFromWire(w MountSpec) (*vfs.MountSpec, error) {
	s := &vfs.MountSpec{MountPrefix: w.MountPrefix, Items: make([]vfs.MountSpecItem, len(w.Items))}
	for i, it := range w.Items {
		s.Items[i] = vfs.MountSpecItem{Key: it.Key, Value: it.Value}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeSpec encodes a mount spec as a standalone payload.
func EncodeSpec(s *vfs.MountSpec) []byte {
	w := SpecToWire(s)
	return MustEncode(&w)
}

// DecodeSpec decodes a standalone mount spec payload.
func DecodeSpec(data []byte) (*vfs.MountSpec, error) {
	var w MountSpec
	if err := Decode(data, &w); err != nil {
		return nil, err
	}
	return SpecFromWire(w)
}

// RecordToWire converts a mount record to its wire form.
func RecordToWire(r *vfs.MountRecord) MountRecord {
	return MountRecord{
		DisplayName: r.DisplayName,
		Icon:        r.Icon,
		OwnerID:     r.OwnerID,
		ObjectPath:  r.ObjectPath,
		Spec:        SpecToWire(r.Spec),
	}
}

// RecordFromWire converts a wire mount record.
func RecordFromWire(w MountRecord) (*vfs.MountRecord, error) {
	spec, err := SpecFromWire(w.Spec)
	if err != nil {
		return nil, err
	}
	return &vfs.MountRecord{
		DisplayName: w.DisplayName,
		Icon:        w.Icon,
		OwnerID:     w.OwnerID,
		ObjectPath:  w.ObjectPath,
		Spec:        spec,
	}, nil
}

// EncodeMountRecord encodes a mount record as a standalone payload.
func EncodeMountRecord(r *vfs.MountRecord) []byte {
	w := RecordToWire(r)
	return MustEncode(&w)
}

// DecodeMountRecord decodes a standalone mount record payload.
func DecodeMountRecord(data []byte) (*vfs.MountRecord, error) {
	var w MountRecord
	if err := Decode(data, &w); err != nil {
		return nil, err
	}
	return RecordFromWire(w)
}
