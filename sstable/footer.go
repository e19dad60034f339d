package sstable

import "encoding/binary"

// magic identifies a valid SSTable footer; see EXTERNAL INTERFACES.
const magic uint64 = 0xDB4D15C0FFEE5000

// footerLen is the fixed on-disk footer size: index_off(8) + index_len(4) +
// filter_off(8) + filter_len(4) + magic(8), padded to 40 bytes.
const footerLen = 40

type footer struct {
	indexOffset  uint64
	indexLen     uint32
	filterOffset uint64
	filterLen    uint32
}

func (ft footer) encode() []byte {
	buf := make([]byte, footerLen)
	binary.LittleEndian.PutUint64(buf[0:8], ft.indexOffset)
	binary.LittleEndian.PutUint32(buf[8:12], ft.indexLen)
	binary.LittleEndian.PutUint64(buf[12:20], ft.filterOffset)
	binary.LittleEndian.PutUint32(buf[20:24], ft.filterLen)
	binary.LittleEndian.PutUint64(buf[32:40], magic)
	return buf
}

func decodeFooter(buf []byte) (footer, bool) {
	if len(buf) != footerLen {
		return footer{}, false
	}
	if binary.LittleEndian.Uint64(buf[32:40]) != magic {
		return footer{}, false
	}
	return footer{
		indexOffset:  binary.LittleEndian.Uint64(buf[0:8]),
		indexLen:     binary.LittleEndian.Uint32(buf[8:12]),
		filterOffset: binary.LittleEndian.Uint64(buf[12:20]),
		filterLen:    binary.LittleEndian.Uint32(buf[20:24]),
	}, true
}
