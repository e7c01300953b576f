// Package blob implements ContentAddress normalisation, BlobCache, and the
// ShardResolver fallback (spec.md §4.7-4.8). No teacher analogue exists for
// content addressing; CID decoding below is hand-rolled (base58btc/base32
// multibase + multihash header) because no CID/multihash library appears
// anywhere in the example pack.
package blob

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/pkg/models"
)

const (
	sha256MultihashCode = 0x12
	sha256DigestLen     = 0x20 // 32 bytes
)

var base58btcAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var lowerNoPadBase32 = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ParseAddress normalises addr into the canonical "sha256-<hex64>" form
// (spec.md §4.7, §3 "ContentAddress"). Accepted inputs: an explicit
// "sha256-" prefix, a bare 64-char hex digest, a CIDv0 (base58btc,
// multihash-only), or a CIDv1 (base32 multibase, 'b' prefix). Anything else
// is rejected with INVALID_ADDRESS.
func ParseAddress(addr string) (models.ContentAddress, error) {
	switch {
	case strings.HasPrefix(addr, "sha256-"):
		return parseSha256Prefixed(addr)
	case isBareHex64(addr):
		return models.ContentAddress("sha256-" + strings.ToLower(addr)), nil
	case strings.HasPrefix(addr, "Qm") && len(addr) >= 44:
		return parseCIDv0(addr)
	case strings.HasPrefix(addr, "b"):
		return parseCIDv1(addr)
	default:
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "unrecognised content address: "+addr)
	}
}

func parseSha256Prefixed(addr string) (models.ContentAddress, error) {
	hexPart := strings.TrimPrefix(addr, "sha256-")
	if !isBareHex64(hexPart) {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "malformed sha256- address")
	}
	return models.ContentAddress("sha256-" + strings.ToLower(hexPart)), nil
}

func isBareHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// parseCIDv0 decodes a base58btc CIDv0 string, which is a bare multihash
// (no CID version/codec bytes).
func parseCIDv0(addr string) (models.ContentAddress, error) {
	raw, err := decodeBase58(addr)
	if err != nil {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "invalid base58btc CID")
	}
	return digestFromMultihash(raw)
}

// parseCIDv1 decodes a base32 multibase ('b' prefix, RFC4648 lowercase, no
// padding) CIDv1: <version varint><codec varint><multihash>.
func parseCIDv1(addr string) (models.ContentAddress, error) {
	raw, err := lowerNoPadBase32.DecodeString(strings.ToLower(addr[1:]))
	if err != nil {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "invalid base32 CID")
	}

	version, n1, ok := decodeVarint(raw)
	if !ok || version != 1 {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "unsupported CID version")
	}
	_, n2, ok := decodeVarint(raw[n1:]) // codec, unused
	if !ok {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "malformed CID codec")
	}
	return digestFromMultihash(raw[n1+n2:])
}

// digestFromMultihash expects <code varint><length varint><digest> and
// requires a sha2-256, 32-byte digest (spec.md §4.7).
func digestFromMultihash(mh []byte) (models.ContentAddress, error) {
	code, n1, ok := decodeVarint(mh)
	if !ok {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "malformed multihash")
	}
	length, n2, ok := decodeVarint(mh[n1:])
	if !ok {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "malformed multihash length")
	}
	digest := mh[n1+n2:]

	if code != sha256MultihashCode || length != sha256DigestLen || len(digest) != sha256DigestLen {
		return "", apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", "multihash is not a 32-byte sha2-256 digest")
	}
	return models.ContentAddress("sha256-" + hex.EncodeToString(digest)), nil
}

// decodeVarint reads an unsigned LEB128 varint (used by both CID and
// multihash headers), returning the value and bytes consumed.
func decodeVarint(b []byte) (value uint64, n int, ok bool) {
	for n < len(b) && n < 10 {
		by := b[n]
		value |= uint64(by&0x7f) << (7 * n)
		n++
		if by&0x80 == 0 {
			return value, n, true
		}
	}
	return 0, 0, false
}

func decodeBase58(s string) ([]byte, error) {
	result := make([]byte, 0, len(s))
	for _, r := range s {
		idx := strings.IndexRune(base58btcAlphabet, r)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", r)
		}
		carry := idx
		for i := 0; i < len(result); i++ {
			carry += int(result[i]) * 58
			result[i] = byte(carry & 0xff)
			carry >>= 8
		}
		for carry > 0 {
			result = append(result, byte(carry&0xff))
			carry >>= 8
		}
	}
	// Leading '1's encode leading zero bytes.
	for _, r := range s {
		if r != '1' {
			break
		}
		result = append(result, 0)
	}
	// result was built little-endian; reverse it.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}
