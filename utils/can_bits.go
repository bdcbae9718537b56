package utils

func bitMask(bitLen int) uint64 {
	if bitLen >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bitLen) - 1
}

// GetBits returns bitLen bits of payload starting startBit bits above the LSB.
func GetBits(payload uint64, startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 || startBit < 0 || startBit >= 64 {
		return 0
	}
	return (payload >> startBit) & bitMask(bitLen)
}

// SetBits is the inverse of GetBits; bits of value above bitLen are dropped.
func SetBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	if bitLen <= 0 || bitLen > 64 || startBit < 0 || startBit >= 64 {
		return payload
	}
	mask := bitMask(bitLen)
	payload &^= mask << startBit
	payload |= (value & mask) << startBit
	return payload
}

// ReadSpan reassembles n bytes of data starting at first into an unsigned
// integer. With bigEndian the first byte is the most significant one.
func ReadSpan(data []byte, first, n int, bigEndian bool) uint64 {
	var span uint64
	for i := 0; i < n; i++ {
		b := uint64(data[first+i])
		if bigEndian {
			span = span<<8 | b
		} else {
			span |= b << (8 * i)
		}
	}
	return span
}

// WriteSpan stores span back into n bytes of data starting at first.
func WriteSpan(data []byte, first, n int, bigEndian bool, span uint64) {
	for i := 0; i < n; i++ {
		shift := 8 * i
		if bigEndian {
			shift = 8 * (n - 1 - i)
		}
		data[first+i] = byte(span >> shift)
	}
}

// UnsignedToRawInt64 interprets the low bitLen bits of u, as two's
// complement when signed.
func UnsignedToRawInt64(u uint64, bitLen int, signed bool) int64 {
	if !signed || bitLen <= 0 {
		return int64(u)
	}
	if bitLen >= 64 {
		return int64(u)
	}
	signBit := uint64(1) << (bitLen - 1)
	if (u & signBit) == 0 {
		return int64(u)
	}
	return int64(u | ^bitMask(bitLen))
}

// RawToUnsigned encodes raw as a bitLen wide two's complement field.
func RawToUnsigned(raw int64, bitLen int) uint64 {
	return uint64(raw) & bitMask(bitLen)
}

// ClampRaw limits raw to what a bitLen wide field can hold.
func ClampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	if !signed {
		max := int64((1 << bitLen) - 1)
		if raw < 0 {
			return 0
		}
		if raw > max {
			return max
		}
		return raw
	}
	min := -int64(1 << (bitLen - 1))
	max := int64((1 << (bitLen - 1)) - 1)
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}
