package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Update is one KvStore value flooded to peers or exchanged during
// full-sync delta, spec.md §6. ValueBytes absent (nil, distinguished
// from empty by HasValue) means TTL-refresh-only, spec.md §4.3.
type Update struct {
	Area         string
	Key          string
	HasValue     bool
	ValueBytes   []byte
	Version      uint64
	OriginatorId string
	TtlMs        int64
	TtlVersion   uint32
	Hash         uint64
}

const (
	updateArea = protowire.Number(iota + 1)
	updateKey
	updateHasValue
	updateValueBytes
	updateVersion
	updateOriginatorId
	updateTtlMs
	updateTtlVersion
	updateHash
)

func (u *Update) Marshal() []byte {
	var b []byte
	b = appendStr(b, updateArea, u.Area)
	b = appendStr(b, updateKey, u.Key)
	if u.HasValue {
		b = appendVarintAlways(b, updateHasValue, 1)
		b = appendBytes(b, updateValueBytes, u.ValueBytes)
	}
	b = appendVarintAlways(b, updateVersion, u.Version)
	b = appendStr(b, updateOriginatorId, u.OriginatorId)
	b = appendVarintAlways(b, updateTtlMs, uint64(u.TtlMs))
	b = appendVarint(b, updateTtlVersion, uint64(u.TtlVersion))
	b = appendVarintAlways(b, updateHash, u.Hash)
	return b
}

func (u *Update) Unmarshal(data []byte) error {
	*u = Update{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, varint uint64) error {
		switch num {
		case updateArea:
			u.Area = string(v)
		case updateKey:
			u.Key = string(v)
		case updateHasValue:
			u.HasValue = varint != 0
		case updateValueBytes:
			u.ValueBytes = v
		case updateVersion:
			u.Version = varint
		case updateOriginatorId:
			u.OriginatorId = string(v)
		case updateTtlMs:
			u.TtlMs = int64(varint)
		case updateTtlVersion:
			u.TtlVersion = uint32(varint)
		case updateHash:
			u.Hash = varint
		}
		return nil
	})
}

// UpdateBatch frames a set of Updates as one flood or one delta
// message, so a full-sync delta doesn't require one TCP write per key.
type UpdateBatch struct {
	Updates []*Update
}

const updateBatchEntry = protowire.Number(1)

func (b *UpdateBatch) Marshal() []byte {
	var out []byte
	for _, u := range b.Updates {
		out = appendBytesValue(out, updateBatchEntry, u.Marshal())
	}
	return out
}

func (b *UpdateBatch) Unmarshal(data []byte) error {
	*b = UpdateBatch{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		if num != updateBatchEntry {
			return nil
		}
		u := &Update{}
		if err := u.Unmarshal(v); err != nil {
			return err
		}
		b.Updates = append(b.Updates, u)
		return nil
	})
}

// SummaryEntry is one key's version/hash fingerprint used in full-sync,
// spec.md §4.3.
type SummaryEntry struct {
	Key     string
	Version uint64
	Hash    uint64
}

const (
	summaryEntryKey = protowire.Number(iota + 1)
	summaryEntryVersion
	summaryEntryHash
)

func (e *SummaryEntry) Marshal() []byte {
	var b []byte
	b = appendStr(b, summaryEntryKey, e.Key)
	b = appendVarintAlways(b, summaryEntryVersion, e.Version)
	b = appendVarintAlways(b, summaryEntryHash, e.Hash)
	return b
}

func (e *SummaryEntry) Unmarshal(data []byte) error {
	*e = SummaryEntry{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, varint uint64) error {
		switch num {
		case summaryEntryKey:
			e.Key = string(v)
		case summaryEntryVersion:
			e.Version = varint
		case summaryEntryHash:
			e.Hash = varint
		}
		return nil
	})
}

// Summary is the first message of full-sync: one side's full
// key -> (version, hash) fingerprint for an area, spec.md §4.3.
type Summary struct {
	Area    string
	Entries []*SummaryEntry
}

const (
	summaryArea = protowire.Number(iota + 1)
	summaryEntry
)

func (s *Summary) Marshal() []byte {
	var b []byte
	b = appendStr(b, summaryArea, s.Area)
	for _, e := range s.Entries {
		b = appendBytesValue(b, summaryEntry, e.Marshal())
	}
	return b
}

func (s *Summary) Unmarshal(data []byte) error {
	*s = Summary{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case summaryArea:
			s.Area = string(v)
		case summaryEntry:
			e := &SummaryEntry{}
			if err := e.Unmarshal(v); err != nil {
				return err
			}
			s.Entries = append(s.Entries, e)
		}
		return nil
	})
}

// Delta is the reply to a Summary carrying the keys the requester
// lacks or holds stale, spec.md §4.3.
type Delta struct {
	Area    string
	Updates []*Update
}

const (
	deltaArea = protowire.Number(iota + 1)
	deltaUpdate
)

func (d *Delta) Marshal() []byte {
	var b []byte
	b = appendStr(b, deltaArea, d.Area)
	for _, u := range d.Updates {
		b = appendBytesValue(b, deltaUpdate, u.Marshal())
	}
	return b
}

func (d *Delta) Unmarshal(data []byte) error {
	*d = Delta{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case deltaArea:
			d.Area = string(v)
		case deltaUpdate:
			u := &Update{}
			if err := u.Unmarshal(v); err != nil {
				return err
			}
			d.Updates = append(d.Updates, u)
		}
		return nil
	})
}
