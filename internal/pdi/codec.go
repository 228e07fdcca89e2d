package pdi

import "encoding/binary"

// wireHeaderSize is the length-prefix overhead: a u32 hash key followed
// by a u32 payload length. The same record layout is used both for the
// portable Encode/Decode representation and for each entry's slot on
// NVM, so a record read back from flash validates the same way a record
// received over the wire does.
const wireHeaderSize = 8

// buildRecord assembles the length-prefixed record for key around
// payload.
func buildRecord(key uint32, payload []byte) []byte {
	out := make([]byte, wireHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], key)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[wireHeaderSize:], payload)
	return out
}

// parseRecord splits a record into its key and payload. ok is false when
// the buffer is too short or the declared length does not fit, which is
// also what an erased-flash slot (length 0xFFFFFFFF) parses as.
func parseRecord(rec []byte) (key uint32, payload []byte, ok bool) {
	if len(rec) < wireHeaderSize {
		return 0, nil, false
	}
	key = binary.LittleEndian.Uint32(rec[0:4])
	length := int(binary.LittleEndian.Uint32(rec[4:8]))
	if length < 0 || wireHeaderSize+length > len(rec) {
		return key, nil, false
	}
	return key, rec[wireHeaderSize : wireHeaderSize+length], true
}

// Encode serializes key's current RAM cache into the portable,
// length-prefixed wire representation. It returns nil for an
// unregistered key.
func (d *DB) Encode(key uint32) []byte {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	payload := make([]byte, len(e.ram))
	copy(payload, e.ram)
	d.mu.Unlock()

	return buildRecord(key, payload)
}

// Decode parses a wire-format record and writes its payload into the
// matching entry's RAM cache via Write (so sanitize/on_write still run).
// It reports the hash key decoded and whether it matched a registered
// entry.
func (d *DB) Decode(wire []byte) (key uint32, ok bool) {
	key, payload, ok := parseRecord(wire)
	if !ok {
		return key, false
	}
	if !d.Exists(key) {
		return key, false
	}
	d.Write(key, payload, len(payload))
	return key, true
}

// bytesToUint32 and uint32ToBytes let a Sanitize callback work with typed
// values without duplicating the little-endian convention.
func (d *DB) bytesToUint32(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

func (d *DB) uint32ToBytes(data []byte, v uint32) {
	if len(data) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(data, v)
}

// --- Typed convenience accessors over the raw byte API ---------------

// ReadFloat32 reads key as a little-endian float32, or 0 if unregistered.
func (d *DB) ReadFloat32(key uint32) float32 {
	var buf [4]byte
	if d.Read(key, buf[:], 4) != 4 {
		return 0
	}
	return float32FromBits(binary.LittleEndian.Uint32(buf[:]))
}

// WriteFloat32 writes v as key's little-endian float32 value.
func (d *DB) WriteFloat32(key uint32, v float32) int {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], float32Bits(v))
	return d.Write(key, buf[:], 4)
}

// ReadUint32 reads key as a little-endian uint32, or 0 if unregistered.
func (d *DB) ReadUint32(key uint32) uint32 {
	var buf [4]byte
	if d.Read(key, buf[:], 4) != 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// WriteUint32 writes v as key's little-endian uint32 value.
func (d *DB) WriteUint32(key uint32, v uint32) int {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return d.Write(key, buf[:], 4)
}

// ReadBool reads key as a single-byte boolean, false if unregistered.
func (d *DB) ReadBool(key uint32) bool {
	var buf [1]byte
	if d.Read(key, buf[:], 1) != 1 {
		return false
	}
	return buf[0] != 0
}

// WriteBool writes v as key's single-byte boolean value.
func (d *DB) WriteBool(key uint32, v bool) int {
	var buf [1]byte
	if v {
		buf[0] = 1
	}
	return d.Write(key, buf[:], 1)
}
