package backends

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Fatbin container: a single blob bundling device binaries for multiple
// target architectures, so one host module can serve heterogeneous fleets.
//
// Layout (all integers little-endian):
//
//	[4]byte magic "KGFB"
//	uint32  number of entries
//	entries: uint16 len(arch), arch bytes, uint32 len(binary), binary bytes

var fatbinMagic = [4]byte{'K', 'G', 'F', 'B'}

// EncodeFatbin bundles the artifacts into one fatbin blob. Assembly text is
// not included; it travels separately when requested.
func EncodeFatbin(artifacts []Artifact) []byte {
	var buf bytes.Buffer
	buf.Write(fatbinMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(artifacts)))
	for _, artifact := range artifacts {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(artifact.Architecture)))
		buf.WriteString(artifact.Architecture)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(artifact.Binary)))
		buf.Write(artifact.Binary)
	}
	return buf.Bytes()
}

// DecodeFatbin splits a fatbin blob back into its per-architecture artifacts.
func DecodeFatbin(blob []byte) ([]Artifact, error) {
	reader := bytes.NewReader(blob)
	var magic [4]byte
	if _, err := io.ReadFull(reader, magic[:]); err != nil || magic != fatbinMagic {
		return nil, errors.Errorf("not a fatbin blob: bad magic")
	}
	var count uint32
	if err := binary.Read(reader, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrap(err, "truncated fatbin blob")
	}
	artifacts := make([]Artifact, 0, count)
	for i := uint32(0); i < count; i++ {
		var archLen uint16
		if err := binary.Read(reader, binary.LittleEndian, &archLen); err != nil {
			return nil, errors.Wrapf(err, "truncated fatbin entry %d", i)
		}
		arch := make([]byte, archLen)
		if _, err := io.ReadFull(reader, arch); err != nil {
			return nil, errors.Wrapf(err, "truncated fatbin entry %d", i)
		}
		var binLen uint32
		if err := binary.Read(reader, binary.LittleEndian, &binLen); err != nil {
			return nil, errors.Wrapf(err, "truncated fatbin entry %d", i)
		}
		bin := make([]byte, binLen)
		if _, err := io.ReadFull(reader, bin); err != nil {
			return nil, errors.Wrapf(err, "truncated fatbin entry %d", i)
		}
		artifacts = append(artifacts, Artifact{Architecture: string(arch), Binary: bin})
	}
	return artifacts, nil
}
