// Package fragmeta accumulates a fragment's footer metadata as tiles are
// written — per-tile MBRs, the fragment's non-empty domain (the union of
// every tile's MBR), per-field tile byte offsets, and cell/tile counts —
// and serializes it to the footer's binary wire format on finalize.
//
// The footer is encoded with google.golang.org/protobuf's low-level
// protowire primitives directly, without a .proto file or generated
// bindings: no such schema exists anywhere in this repository's reference
// material, and generating fake bindings would misrepresent the
// dependency, so the wire format is written by hand against the same
// tag/varint/length-delimited primitives generated code would emit. The
// encoded body carries a trailing CRC32, the same framing
// internal/util.AppendChecksum gives a filtered tile.
package fragmeta

import (
	"fmt"
	"math"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
	"github.com/devrev/arraydb/writer-node/internal/util"
)

const FooterVersion = 1

// wire field numbers for the footer message.
const (
	fieldVersion      = 1
	fieldCellNum      = 2
	fieldTileNum      = 3
	fieldTsFirst      = 4
	fieldTsLast       = 5
	fieldDomainLo     = 6
	fieldDomainHi     = 7
	fieldTileOffset   = 8
	fieldTileMBR      = 9
)

// nested message field numbers for a tile-offset entry.
const (
	offsetFieldName   = 1
	offsetFieldKind   = 2
	offsetFieldOffset = 3
	offsetFieldLength = 4
)

// nested message field numbers for a tile MBR entry.
const (
	mbrFieldLo = 1
	mbrFieldHi = 2
)

// MBR is a minimum bounding rectangle: one [lo, hi] pair per dimension.
type MBR [][2]float64

// TileOffsetEntry records where one field's tile landed in its file.
type TileOffsetEntry struct {
	Field  string
	Kind   storagemanager.TileKind
	Offset uint64
	Length uint64
}

// Accumulator collects footer metadata as a fragment is written. Safe for
// concurrent use: the Writer fans tile preparation out across fields, and
// every field's tiles land in the same Accumulator.
type Accumulator struct {
	mu             sync.Mutex
	ndim           int
	nonEmptyDomain MBR
	tileMBRs       []MBR
	tileOffsets    []TileOffsetEntry
	cellNum        uint64
	tileNum        uint64
	tsFirst        uint64
	tsLast         uint64
}

func NewAccumulator(ndim int, timestamp uint64) *Accumulator {
	return &Accumulator{ndim: ndim, tsFirst: timestamp, tsLast: timestamp}
}

// AddTileOffset records a written tile's location, for the footer's
// per-attribute tile byte offset table.
func (a *Accumulator) AddTileOffset(field string, kind storagemanager.TileKind, offset, length uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tileOffsets = append(a.tileOffsets, TileOffsetEntry{Field: field, Kind: kind, Offset: offset, Length: length})
}

// AddTileMBR records one coordinate tile's bounding rectangle and folds
// it into the fragment's non-empty domain, mirroring
// compute_coords_metadata.
func (a *Accumulator) AddTileMBR(mbr MBR) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(mbr) != a.ndim {
		return werrors.Internal("MBR dimensionality does not match fragment", nil)
	}
	a.tileMBRs = append(a.tileMBRs, mbr)
	a.tileNum++
	if a.nonEmptyDomain == nil {
		a.nonEmptyDomain = make(MBR, a.ndim)
		copy(a.nonEmptyDomain, mbr)
		return nil
	}
	for i := range mbr {
		if mbr[i][0] < a.nonEmptyDomain[i][0] {
			a.nonEmptyDomain[i][0] = mbr[i][0]
		}
		if mbr[i][1] > a.nonEmptyDomain[i][1] {
			a.nonEmptyDomain[i][1] = mbr[i][1]
		}
	}
	return nil
}

// RecordCells advances the fragment's cell count and timestamp range.
func (a *Accumulator) RecordCells(n uint64, timestamp uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cellNum += n
	if timestamp < a.tsFirst {
		a.tsFirst = timestamp
	}
	if timestamp > a.tsLast {
		a.tsLast = timestamp
	}
}

func (a *Accumulator) CellNum() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cellNum
}

func (a *Accumulator) TileNum() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tileNum
}

func (a *Accumulator) NonEmptyDomain() MBR {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonEmptyDomain
}

// Encode serializes the footer to its wire format, with a trailing CRC32
// over the encoded body, the same integrity pattern
// internal/util.AppendChecksum gives a tile's filtered bytes.
func (a *Accumulator) Encode() []byte {
	return util.AppendChecksum(a.encodeBody())
}

func (a *Accumulator) encodeBody() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, FooterVersion)
	b = protowire.AppendTag(b, fieldCellNum, protowire.VarintType)
	b = protowire.AppendVarint(b, a.cellNum)
	b = protowire.AppendTag(b, fieldTileNum, protowire.VarintType)
	b = protowire.AppendVarint(b, a.tileNum)
	b = protowire.AppendTag(b, fieldTsFirst, protowire.VarintType)
	b = protowire.AppendVarint(b, a.tsFirst)
	b = protowire.AppendTag(b, fieldTsLast, protowire.VarintType)
	b = protowire.AppendVarint(b, a.tsLast)

	for _, bounds := range a.nonEmptyDomain {
		b = protowire.AppendTag(b, fieldDomainLo, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64bits(bounds[0]))
		b = protowire.AppendTag(b, fieldDomainHi, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64bits(bounds[1]))
	}

	for _, e := range a.tileOffsets {
		b = protowire.AppendTag(b, fieldTileOffset, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTileOffset(e))
	}

	for _, mbr := range a.tileMBRs {
		b = protowire.AppendTag(b, fieldTileMBR, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMBR(mbr))
	}

	return b
}

func encodeTileOffset(e TileOffsetEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, offsetFieldName, protowire.BytesType)
	b = protowire.AppendString(b, e.Field)
	b = protowire.AppendTag(b, offsetFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	b = protowire.AppendTag(b, offsetFieldOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Offset)
	b = protowire.AppendTag(b, offsetFieldLength, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Length)
	return b
}

func encodeMBR(mbr MBR) []byte {
	var b []byte
	for _, bounds := range mbr {
		b = protowire.AppendTag(b, mbrFieldLo, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64bits(bounds[0]))
		b = protowire.AppendTag(b, mbrFieldHi, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64bits(bounds[1]))
	}
	return b
}

// Footer is the decoded form of a footer, used by Decode and by the
// test-only fragment verifier.
type Footer struct {
	Version        uint64
	CellNum        uint64
	TileNum        uint64
	TsFirst        uint64
	TsLast         uint64
	NonEmptyDomain MBR
	TileOffsets    []TileOffsetEntry
	TileMBRs       []MBR
}

// Decode parses a footer previously produced by Encode, first stripping and
// validating its trailing CRC32.
func Decode(raw []byte) (*Footer, error) {
	body, valid := util.ValidateAndStripChecksum(raw)
	if !valid {
		return nil, werrors.Internal("footer checksum mismatch", nil)
	}
	return decodeBody(body)
}

func decodeBody(b []byte) (*Footer, error) {
	f := &Footer{}
	var domainLo, domainHi []float64

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, werrors.Internal("malformed footer tag", nil)
		}
		b = b[n:]

		switch num {
		case fieldVersion, fieldCellNum, fieldTileNum, fieldTsFirst, fieldTsLast:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, werrors.Internal("malformed footer varint", nil)
			}
			b = b[n:]
			switch num {
			case fieldVersion:
				f.Version = v
			case fieldCellNum:
				f.CellNum = v
			case fieldTileNum:
				f.TileNum = v
			case fieldTsFirst:
				f.TsFirst = v
			case fieldTsLast:
				f.TsLast = v
			}
		case fieldDomainLo, fieldDomainHi:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, werrors.Internal("malformed footer fixed64", nil)
			}
			b = b[n:]
			if num == fieldDomainLo {
				domainLo = append(domainLo, float64frombits(v))
			} else {
				domainHi = append(domainHi, float64frombits(v))
			}
		case fieldTileOffset:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, werrors.Internal("malformed footer tile offset", nil)
			}
			b = b[n:]
			e, err := decodeTileOffset(v)
			if err != nil {
				return nil, err
			}
			f.TileOffsets = append(f.TileOffsets, e)
		case fieldTileMBR:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, werrors.Internal("malformed footer tile MBR", nil)
			}
			b = b[n:]
			mbr, err := decodeMBR(v)
			if err != nil {
				return nil, err
			}
			f.TileMBRs = append(f.TileMBRs, mbr)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, werrors.Internal("malformed footer field", nil)
			}
			b = b[n:]
		}
	}

	if len(domainLo) != len(domainHi) {
		return nil, werrors.Internal("footer domain lo/hi count mismatch", nil)
	}
	for i := range domainLo {
		f.NonEmptyDomain = append(f.NonEmptyDomain, [2]float64{domainLo[i], domainHi[i]})
	}

	return f, nil
}

func decodeTileOffset(b []byte) (TileOffsetEntry, error) {
	var e TileOffsetEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, werrors.Internal("malformed tile offset tag", nil)
		}
		b = b[n:]
		switch num {
		case offsetFieldName:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, werrors.Internal("malformed tile offset name", nil)
			}
			b = b[n:]
			e.Field = v
		case offsetFieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, werrors.Internal("malformed tile offset kind", nil)
			}
			b = b[n:]
			e.Kind = storagemanager.TileKind(v)
		case offsetFieldOffset:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, werrors.Internal("malformed tile offset", nil)
			}
			b = b[n:]
			e.Offset = v
		case offsetFieldLength:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, werrors.Internal("malformed tile offset length", nil)
			}
			b = b[n:]
			e.Length = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, werrors.Internal("malformed tile offset field", nil)
			}
			b = b[n:]
		}
	}
	return e, nil
}

func decodeMBR(b []byte) (MBR, error) {
	var lo, hi []float64
	for len(b) > 0 {
		num, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, werrors.Internal("malformed MBR tag", nil)
		}
		b = b[n:]
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, werrors.Internal("malformed MBR value", nil)
		}
		b = b[n:]
		switch num {
		case mbrFieldLo:
			lo = append(lo, float64frombits(v))
		case mbrFieldHi:
			hi = append(hi, float64frombits(v))
		default:
			return nil, werrors.Internal(fmt.Sprintf("unexpected MBR field %d", num), nil)
		}
	}
	if len(lo) != len(hi) {
		return nil, werrors.Internal("MBR lo/hi count mismatch", nil)
	}
	mbr := make(MBR, len(lo))
	for i := range lo {
		mbr[i] = [2]float64{lo[i], hi[i]}
	}
	return mbr, nil
}

func float64bits(f float64) uint64 {
	return math.Float64bits(f)
}

func float64frombits(b uint64) float64 {
	return math.Float64frombits(b)
}
