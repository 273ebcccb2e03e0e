// Package archive reads and writes passkey-encrypted .cvbak files.
//
// Layout:
//
//	magic "CVBK" | version (1) | argon2id time (4) | memory KiB (4) | threads (1)
//	| salt (16) | nonce prefix (16)
//	then frames: sealed length (4, big endian) | secretbox(chunk)
//
// Each frame's nonce is the prefix followed by a big-endian frame counter;
// the counter's top bit marks the last frame, so truncation and reordering
// both fail authentication.
package archive

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Extension is the file suffix for archives.
const Extension = ".cvbak"

const (
	magic            = "CVBK"
	version          = 1
	saltSize         = 16
	prefixSize       = 16
	keySize          = 32
	headerSize       = len(magic) + 1 + 4 + 4 + 1 + saltSize + prefixSize
	DefaultChunkSize = 64 * 1024
	maxChunkSize     = 4 * 1024 * 1024
	finalFlag        = uint64(1) << 63
	maxMemoryKiB     = 1 << 20
)

var (
	ErrBadMagic           = errors.New("not a convert archive")
	ErrUnsupportedVersion = errors.New("unsupported archive version")
	ErrAuth               = errors.New("archive authentication failed (wrong passkey or corrupted data)")
	ErrTruncated          = errors.New("archive is truncated")
	ErrTrailingData       = errors.New("archive has data after the final frame")
)

// Params are the argon2id cost settings recorded in the archive header.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams matches libsodium's "moderate" argon2id limits.
func DefaultParams() Params {
	return Params{Time: 3, MemoryKiB: 256 * 1024, Threads: 1}
}

// Options tunes Seal. Zero values take defaults.
type Options struct {
	Params    Params
	ChunkSize int
	// Progress, if set, is called after each frame with the plaintext bytes
	// processed so far.
	Progress func(done int64)
}

// HasExtension reports whether name ends in .cvbak, ignoring case.
func HasExtension(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), Extension)
}

// Seal encrypts everything read from r into w. It returns the number of
// plaintext bytes consumed.
func Seal(ctx context.Context, w io.Writer, r io.Reader, passkey []byte, opts Options) (int64, error) {
	if len(passkey) == 0 {
		return 0, fmt.Errorf("passkey is empty")
	}
	params := opts.Params
	if params == (Params{}) {
		params = DefaultParams()
	}
	if err := params.validate(); err != nil {
		return 0, err
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > maxChunkSize {
		return 0, fmt.Errorf("chunk size %d exceeds %d", chunkSize, maxChunkSize)
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	header[4] = version
	binary.BigEndian.PutUint32(header[5:9], params.Time)
	binary.BigEndian.PutUint32(header[9:13], params.MemoryKiB)
	header[13] = params.Threads
	salt := header[14 : 14+saltSize]
	prefix := header[14+saltSize:]
	if _, err := rand.Read(salt); err != nil {
		return 0, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := rand.Read(prefix); err != nil {
		return 0, fmt.Errorf("generate nonce prefix: %w", err)
	}

	key := deriveKey(passkey, salt, params)
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	// Read one chunk ahead so the last frame can be flagged.
	br := bufio.NewReaderSize(r, chunkSize)
	cur := make([]byte, chunkSize)
	next := make([]byte, chunkSize)
	n, err := io.ReadFull(br, cur)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("read input: %w", err)
	}

	var (
		total   int64
		counter uint64
		lenBuf  [4]byte
		box     []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		final := n < chunkSize
		var m int
		if !final {
			m, err = io.ReadFull(br, next)
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return total, fmt.Errorf("read input: %w", err)
			}
			final = m == 0
		}

		nonce := frameNonce(prefix, counter, final)
		box = secretbox.Seal(box[:0], cur[:n], &nonce, &key)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(box)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return total, fmt.Errorf("write frame: %w", err)
		}
		if _, err := bw.Write(box); err != nil {
			return total, fmt.Errorf("write frame: %w", err)
		}

		total += int64(n)
		counter++
		if opts.Progress != nil {
			opts.Progress(total)
		}
		if final {
			break
		}
		cur, next = next, cur
		n = m
	}

	if err := bw.Flush(); err != nil {
		return total, fmt.Errorf("flush archive: %w", err)
	}
	return total, nil
}

// Open decrypts an archive from r into w and returns the plaintext size.
// Nothing is trusted until a frame authenticates; on error w may hold a
// partial plaintext and must be discarded.
func Open(ctx context.Context, w io.Writer, r io.Reader, passkey []byte) (int64, error) {
	br := bufio.NewReader(r)
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, ErrBadMagic
		}
		return 0, fmt.Errorf("read header: %w", err)
	}
	if string(header[:4]) != magic {
		return 0, ErrBadMagic
	}
	if header[4] != version {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header[4])
	}
	params := Params{
		Time:      binary.BigEndian.Uint32(header[5:9]),
		MemoryKiB: binary.BigEndian.Uint32(header[9:13]),
		Threads:   header[13],
	}
	if err := params.validate(); err != nil {
		return 0, err
	}
	salt := header[14 : 14+saltSize]
	prefix := header[14+saltSize:]
	key := deriveKey(passkey, salt, params)

	var (
		total   int64
		counter uint64
		lenBuf  [4]byte
		sealed  []byte
		plain   []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, ErrTruncated
			}
			return total, fmt.Errorf("read frame: %w", err)
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		if size < secretbox.Overhead || size > maxChunkSize+secretbox.Overhead {
			return total, ErrAuth
		}
		if cap(sealed) < int(size) {
			sealed = make([]byte, size)
		}
		sealed = sealed[:size]
		if _, err := io.ReadFull(br, sealed); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, ErrTruncated
			}
			return total, fmt.Errorf("read frame: %w", err)
		}

		// Try the frame as a middle frame first, then as the last one.
		final := false
		nonce := frameNonce(prefix, counter, false)
		out, ok := secretbox.Open(plain[:0], sealed, &nonce, &key)
		if !ok {
			nonce = frameNonce(prefix, counter, true)
			out, ok = secretbox.Open(plain[:0], sealed, &nonce, &key)
			if !ok {
				return total, ErrAuth
			}
			final = true
		}
		plain = out

		if _, err := w.Write(plain); err != nil {
			return total, fmt.Errorf("write output: %w", err)
		}
		total += int64(len(plain))
		counter++

		if final {
			if _, err := br.ReadByte(); err == nil {
				return total, ErrTrailingData
			} else if !errors.Is(err, io.EOF) {
				return total, fmt.Errorf("read archive: %w", err)
			}
			return total, nil
		}
	}
}

// VerifyFile authenticates every frame of the archive at path without
// writing plaintext anywhere. It returns the plaintext size.
func VerifyFile(ctx context.Context, path string, passkey []byte) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	return Open(ctx, io.Discard, f, passkey)
}

func (p Params) validate() error {
	if p.Time == 0 || p.Threads == 0 || p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("invalid argon2id parameters %+v", p)
	}
	if p.MemoryKiB > maxMemoryKiB {
		return fmt.Errorf("argon2id memory %d KiB exceeds limit %d KiB", p.MemoryKiB, maxMemoryKiB)
	}
	return nil
}

func deriveKey(passkey, salt []byte, p Params) [keySize]byte {
	var key [keySize]byte
	copy(key[:], argon2.IDKey(passkey, salt, p.Time, p.MemoryKiB, p.Threads, keySize))
	return key
}

func frameNonce(prefix []byte, counter uint64, final bool) [24]byte {
	var nonce [24]byte
	copy(nonce[:prefixSize], prefix)
	if final {
		counter |= finalFlag
	}
	binary.BigEndian.PutUint64(nonce[prefixSize:], counter)
	return nonce
}
