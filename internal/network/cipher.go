package network

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// cfb8 is AES in 8-bit cipher feedback mode. The shift register advances one
// byte per byte processed, with the ciphertext byte fed back.
type cfb8 struct {
	block   cipher.Block
	buf     []byte // register is buf[pos:pos+blockSize]
	pos     int
	out     []byte
	decrypt bool
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) *cfb8 {
	bs := block.BlockSize()
	buf := make([]byte, 2*bs)
	copy(buf, iv)
	return &cfb8{block: block, buf: buf, out: make([]byte, bs), decrypt: decrypt}
}

func (x *cfb8) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("network: cfb8 output smaller than input")
	}
	bs := x.block.BlockSize()
	for i, in := range src {
		if x.pos == bs {
			copy(x.buf[:bs], x.buf[bs:])
			x.pos = 0
		}
		x.block.Encrypt(x.out, x.buf[x.pos:x.pos+bs])
		out := in ^ x.out[0]
		dst[i] = out

		feedback := out
		if x.decrypt {
			feedback = in
		}
		x.buf[x.pos+bs] = feedback
		x.pos++
	}
}

// NewCipherStreams derives the encrypt and decrypt streams from the shared
// secret. The secret doubles as key and IV.
func NewCipherStreams(secret []byte) (encrypt, decrypt cipher.Stream, err error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return newCFB8(block, secret, false), newCFB8(block, secret, true), nil
}
