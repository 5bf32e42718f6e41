package workbooks

import (
	"encoding/binary"
	"unicode/utf16"
)

// Compound file layout constants (version 3, 512-byte sectors).
const (
	sectorSize    = 512
	miniCutoff    = 4096
	idsPerSector  = sectorSize / 4
	headerDIFAT   = 109
	dirEntrySize  = 128
	endOfChain    = 0xFFFFFFFE
	freeSector    = 0xFFFFFFFF
	fatSector     = 0xFFFFFFFD
	difatSector   = 0xFFFFFFFC
	noStream      = 0xFFFFFFFF
	typeStream    = 2
	typeRoot      = 5
	colorBlack    = 1
	cfbSignature  = 0xE11AB1A1E011CFD0
	cfbByteOrder  = 0xFFFE
	cfbMinorV3    = 0x003E
	cfbMajorV3    = 0x0003
	cfbSectorBits = 9
	cfbMiniBits   = 6
)

// compoundFile writes stream as the only entry of a minimal compound file:
// contiguous sector chains, one directory sector and a stream padded past the
// mini-stream cutoff so it always lives in regular sectors.
func compoundFile(name string, stream []byte) []byte {
	size := max(len(stream), miniCutoff)
	dataSectors := (size + sectorSize - 1) / sectorSize

	fatN, difN := 0, 0
	for {
		total := dataSectors + 1 + fatN + difN
		needFat := (total + idsPerSector - 1) / idsPerSector
		needDif := 0
		if needFat > headerDIFAT {
			needDif = (needFat - headerDIFAT + idsPerSector - 2) / (idsPerSector - 1)
		}
		if needFat == fatN && needDif == difN {
			break
		}
		fatN, difN = needFat, needDif
	}

	dirSect := dataSectors
	fatStart := dirSect + 1
	difStart := fatStart + fatN
	nSectors := difStart + difN

	out := make([]byte, sectorSize*(1+nSectors))
	sector := func(i int) []byte { return out[sectorSize*(i+1) : sectorSize*(i+2)] }
	le32 := binary.LittleEndian.PutUint32
	le16 := binary.LittleEndian.PutUint16

	// header
	h := out[:sectorSize]
	binary.LittleEndian.PutUint64(h, cfbSignature)
	le16(h[24:], cfbMinorV3)
	le16(h[26:], cfbMajorV3)
	le16(h[28:], cfbByteOrder)
	le16(h[30:], cfbSectorBits)
	le16(h[32:], cfbMiniBits)
	le32(h[44:], uint32(fatN))
	le32(h[48:], uint32(dirSect))
	le32(h[56:], miniCutoff)
	le32(h[60:], endOfChain)
	le32(h[68:], endOfChain)
	if difN > 0 {
		le32(h[68:], uint32(difStart))
	}
	le32(h[72:], uint32(difN))
	for i := 0; i < headerDIFAT; i++ {
		id := uint32(freeSector)
		if i < fatN {
			id = uint32(fatStart + i)
		}
		le32(h[76+4*i:], id)
	}

	// stream data
	copy(out[sectorSize:], stream)

	// FAT
	fat := make([]uint32, fatN*idsPerSector)
	for i := range fat {
		fat[i] = freeSector
	}
	for i := 0; i < dataSectors; i++ {
		fat[i] = uint32(i + 1)
	}
	fat[dataSectors-1] = endOfChain
	fat[dirSect] = endOfChain
	for i := 0; i < fatN; i++ {
		fat[fatStart+i] = fatSector
	}
	for i := 0; i < difN; i++ {
		fat[difStart+i] = difatSector
	}
	for i, id := range fat {
		le32(sector(fatStart + i/idsPerSector)[4*(i%idsPerSector):], id)
	}

	// DIFAT sectors list the FAT sectors the header has no room for
	for d := 0; d < difN; d++ {
		s := sector(difStart + d)
		for k := 0; k < idsPerSector-1; k++ {
			id := uint32(freeSector)
			if f := headerDIFAT + d*(idsPerSector-1) + k; f < fatN {
				id = uint32(fatStart + f)
			}
			le32(s[4*k:], id)
		}
		next := uint32(endOfChain)
		if d+1 < difN {
			next = uint32(difStart + d + 1)
		}
		le32(s[sectorSize-4:], next)
	}

	// directory: root, the stream, two unused entries
	dir := sector(dirSect)
	for i := 0; i < sectorSize/dirEntrySize; i++ {
		e := dir[i*dirEntrySize:]
		le32(e[68:], noStream)
		le32(e[72:], noStream)
		le32(e[76:], noStream)
	}
	dirEntry(dir[0:], "Root Entry", typeRoot, 1, endOfChain, 0)
	dirEntry(dir[dirEntrySize:], name, typeStream, noStream, 0, uint32(size))
	return out
}

func dirEntry(e []byte, name string, typ byte, child, start, size uint32) {
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		binary.LittleEndian.PutUint16(e[2*i:], u)
	}
	binary.LittleEndian.PutUint16(e[64:], uint16(2*(len(units)+1)))
	e[66] = typ
	e[67] = colorBlack
	binary.LittleEndian.PutUint32(e[76:], child)
	binary.LittleEndian.PutUint32(e[116:], start)
	binary.LittleEndian.PutUint32(e[120:], size)
}
