// Package codec transforms byte slices on their way to and from a
// non-DAX window backend: encryption (keyed by an operator passphrase)
// and compression. True persistent-memory windows skip this package
// entirely — bytes are addressed directly — but the bbolt/badger paged
// backends use it so a window that happens to be a file on disk isn't
// stored as cleartext.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/pierrec/lz4"
	"golang.org/x/crypto/pbkdf2"

	sha256simd "github.com/minio/sha256-simd"
)

// Codec performs one reversible transformation of a byte slice.
// additionalData is authenticated (for encrypting codecs) but not
// itself transformed; callers pass something that uniquely identifies
// the page/record being encoded (e.g. its window offset) so that
// ciphertext cannot be silently moved to a different location.
type Codec interface {
	EncodeBytes(data, additionalData []byte) (ret []byte, err error)
	DecodeBytes(data, additionalData []byte) (ret []byte, err error)
}

// EncryptingCodec is AES-256-GCM with a PBKDF2-derived key.
type EncryptingCodec struct {
	gcm cipher.AEAD
}

// Init derives a key from password+salt and builds the AEAD. Iter
// should be in the tens of thousands at minimum for a real passphrase.
func (self EncryptingCodec) Init(password, salt []byte, iter int) *EncryptingCodec {
	key := pbkdf2.Key(password, salt, iter, 32, sha256simd.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	self.gcm = gcm
	return &self
}

// wire format: nonce_len(1) | nonce | ciphertext(rest)
func (self *EncryptingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	nonce := make([]byte, self.gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := self.gcm.Seal(nil, nonce, data, additionalData)
	ret = make([]byte, 1+len(nonce)+len(ct))
	ret[0] = byte(len(nonce))
	copy(ret[1:], nonce)
	copy(ret[1+len(nonce):], ct)
	return ret, nil
}

func (self *EncryptingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("codec: encrypted payload too short")
	}
	nlen := int(data[0])
	if len(data) < 1+nlen {
		return nil, fmt.Errorf("codec: encrypted payload truncated")
	}
	nonce := data[1 : 1+nlen]
	ct := data[1+nlen:]
	return self.gcm.Open(nil, nonce, ct, additionalData)
}

// CompressingCodec is lz4 with a one-byte "was it worth it" flag, so
// incompressible pages are stored as plain bytes plus one byte of
// overhead rather than growing. maximumSize tracks the largest decode
// seen so far and grows the scratch buffer geometrically rather than
// reallocating to the exact size on every call.
type CompressingCodec struct {
	maximumSize int
}

const (
	compressionPlain byte = 0
	compressionLZ4   byte = 1
)

const smallestCompressionSize = 1024
const largestCompressionSize = 1024000000

func (self *CompressingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	scratch := make([]byte, len(data))
	n, err := lz4.CompressBlock(data, scratch, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(data) {
		ret = make([]byte, 1+len(data))
		ret[0] = compressionPlain
		copy(ret[1:], data)
		return ret, nil
	}
	ret = make([]byte, 1+n)
	ret[0] = compressionLZ4
	copy(ret[1:], scratch[:n])
	return ret, nil
}

func (self *CompressingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("codec: compressed payload too short")
	}
	switch data[0] {
	case compressionPlain:
		return data[1:], nil
	case compressionLZ4:
		maximumSize := self.maximumSize
		if maximumSize < smallestCompressionSize {
			maximumSize = smallestCompressionSize
		}
		ret = make([]byte, maximumSize)
		var n int
		n, err = lz4.UncompressBlock(data[1:], ret)
		if err == lz4.ErrInvalidSourceShortBuffer {
			self.maximumSize = maximumSize * 2
			if self.maximumSize > largestCompressionSize {
				return nil, fmt.Errorf("codec: lz4 block exceeds %d bytes", largestCompressionSize)
			}
			return self.DecodeBytes(data, additionalData)
		}
		if err != nil {
			return nil, err
		}
		return ret[:n], nil
	default:
		return nil, fmt.Errorf("codec: unknown compression tag %d", data[0])
	}
}

// CodecChain composes Codecs in encryption order: the first entry
// wraps the innermost transform. Decoding reverses the order.
type CodecChain struct {
	codecs, reverse []Codec
}

func (self CodecChain) Init(codecs ...Codec) *CodecChain {
	self.codecs = codecs
	rev := make([]Codec, len(codecs))
	for i, c := range codecs {
		rev[len(codecs)-1-i] = c
	}
	self.reverse = rev
	return &self
}

func (self *CodecChain) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.reverse {
		ret, err = c.EncodeBytes(ret, additionalData)
		if err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func (self *CodecChain) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.codecs {
		ret, err = c.DecodeBytes(ret, additionalData)
		if err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// checksum computes the sha256-simd content hash behind ChecksumBytes
// and VerifyChecksummedBytes. The paged window backends do not call
// these helpers; pages are stored without a checksum.
func checksum(data []byte) [32]byte {
	return sha256simd.Sum256(data)
}

// ChecksumBytes appends a 32-byte sha256-simd digest to data.
func ChecksumBytes(data []byte) []byte {
	sum := checksum(data)
	out := make([]byte, len(data)+32)
	copy(out, data)
	copy(out[len(data):], sum[:])
	return out
}

// VerifyChecksummedBytes strips and verifies the trailing digest
// appended by ChecksumBytes.
func VerifyChecksummedBytes(data []byte) ([]byte, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("codec: checksummed payload too short")
	}
	body := data[:len(data)-32]
	want := data[len(data)-32:]
	got := checksum(body)
	if !bytes.Equal(got[:], want) {
		return nil, fmt.Errorf("codec: checksum mismatch")
	}
	return body, nil
}
